package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat_gateway/internal/catalog"
	"chat_gateway/internal/providers"
	"chat_gateway/internal/utils"
)

const (
	// NoResponsePlaceholder replaces an empty upstream answer
	NoResponsePlaceholder = "no response from model"

	// RefusalPrefix marks content taken from an upstream refusal
	RefusalPrefix = "[Refusal] "
)

// Config tunes the attempt loop. Zero durations disable the limit.
type Config struct {
	// AttemptTimeout bounds a single upstream call
	AttemptTimeout time.Duration
	// Deadline bounds the whole attempt sequence
	Deadline time.Duration

	Logger *utils.Logger
}

// Request is a chat completion request bound to a model. Fallback to other
// models is enabled unless NoFallback is set.
type Request struct {
	Messages   []providers.ChatMessage
	Model      string
	NoFallback bool
}

// Attempt records the outcome of one upstream call
type Attempt struct {
	Model     string
	Succeeded bool
	Err       error
	Duration  time.Duration
}

// Result is the normalized answer to a chat request
type Result struct {
	Message        providers.ChatMessage
	RequestedModel string
	ServedModel    string
	Substituted    bool
	Refused        bool
	Attempts       []Attempt
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetryable
	outcomeFatal
)

type attemptResult struct {
	outcome    outcome
	completion *providers.Completion
	err        error
}

// Dispatcher executes chat completions against the upstream, substituting
// other models from the catalog when the requested one fails.
// It holds no mutable state and is safe for concurrent use.
type Dispatcher struct {
	catalog  *catalog.Catalog
	upstream providers.ChatCompleter
	cfg      Config
	logger   *utils.Logger
}

// New creates a dispatcher. A nil upstream means no credentials were
// configured; every call then fails with ErrMissingCredentials.
func New(cat *catalog.Catalog, upstream providers.ChatCompleter, cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = utils.NewLogger("dispatcher")
	}
	return &Dispatcher{
		catalog:  cat,
		upstream: upstream,
		cfg:      cfg,
		logger:   logger,
	}
}

// AttemptOrder returns the models Chat would try for req, in order
func (d *Dispatcher) AttemptOrder(req Request) []string {
	return d.catalog.AttemptOrder(req.Model, !req.NoFallback)
}

// Chat tries each candidate model in turn and returns the first success.
//
// A 401 or 403 from the upstream stops the sequence with ErrAuthRejected.
// Every other failure moves on to the next candidate. When all candidates
// fail the error is an *ExhaustedError. Cancelling ctx aborts the running
// attempt and returns the context error.
func (d *Dispatcher) Chat(ctx context.Context, req Request) (*Result, error) {
	if d.upstream == nil {
		return nil, ErrMissingCredentials
	}
	if len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, ErrNoModel
	}

	parent := ctx
	if d.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Deadline)
		defer cancel()
	}

	order := d.AttemptOrder(req)
	attempts := make([]Attempt, 0, len(order))
	var lastErr error

	for i, model := range order {
		if err := parent.Err(); err != nil {
			return nil, fmt.Errorf("chat cancelled after %d attempts: %w", len(attempts), err)
		}
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		if i > 0 {
			d.logger.Info("Trying substitute model", "requested", req.Model, "model", model, "attempt", i+1)
		}

		started := time.Now()
		res := d.attempt(ctx, model, req.Messages)
		attempts = append(attempts, Attempt{
			Model:     model,
			Succeeded: res.outcome == outcomeSuccess,
			Err:       res.err,
			Duration:  time.Since(started),
		})

		switch res.outcome {
		case outcomeSuccess:
			return d.buildResult(req.Model, model, res.completion, attempts), nil
		case outcomeFatal:
			return nil, res.err
		}

		if err := parent.Err(); err != nil {
			return nil, fmt.Errorf("chat cancelled after %d attempts: %w", len(attempts), err)
		}

		lastErr = res.err
		d.logger.Warn("Model attempt failed", "model", model, "attempt", i+1, "candidates", len(order), "error", res.err)
	}

	return nil, &ExhaustedError{Attempts: attempts, Last: lastErr}
}

func (d *Dispatcher) attempt(ctx context.Context, model string, messages []providers.ChatMessage) attemptResult {
	if d.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		defer cancel()
	}

	completion, err := d.upstream.ChatCompletion(ctx, model, messages)
	if err != nil {
		if isAuthRejection(err) {
			return attemptResult{outcome: outcomeFatal, err: fmt.Errorf("%w: %w", ErrAuthRejected, err)}
		}
		return attemptResult{outcome: outcomeRetryable, err: err}
	}
	if completion == nil {
		return attemptResult{
			outcome: outcomeRetryable,
			err:     &providers.UpstreamError{Model: model, Err: providers.ErrNoChoices},
		}
	}
	return attemptResult{outcome: outcomeSuccess, completion: completion}
}

func isAuthRejection(err error) bool {
	var upstreamErr *providers.UpstreamError
	return errors.As(err, &upstreamErr) && upstreamErr.AuthRejected()
}

func (d *Dispatcher) buildResult(requested, served string, completion *providers.Completion, attempts []Attempt) *Result {
	content, refused := normalizeContent(completion)
	substituted := served != requested
	if substituted {
		content += SubstitutionNote(requested, served)
	}

	role := completion.Role
	if role == "" {
		role = providers.RoleAssistant
	}

	return &Result{
		Message:        providers.ChatMessage{Role: role, Content: content},
		RequestedModel: requested,
		ServedModel:    served,
		Substituted:    substituted,
		Refused:        refused,
		Attempts:       attempts,
	}
}

// normalizeContent never returns empty text: a refusal is surfaced with a
// prefix, and a silent answer becomes the placeholder.
func normalizeContent(c *providers.Completion) (string, bool) {
	if strings.TrimSpace(c.Content) != "" {
		return c.Content, false
	}
	if refusal := strings.TrimSpace(c.Refusal); refusal != "" {
		return RefusalPrefix + refusal, true
	}
	return NoResponsePlaceholder, false
}

// SubstitutionNote is appended to content served by a substitute model
func SubstitutionNote(requested, served string) string {
	return fmt.Sprintf("\n\n*[System: Original model %s was unavailable. Switched to %s]*", requested, served)
}
