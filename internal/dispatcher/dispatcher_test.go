package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"chat_gateway/internal/catalog"
	"chat_gateway/internal/providers"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	r1      = "deepseek/deepseek-r1-0528:free"
	r1t2    = "tngtech/deepseek-r1t2-chimera:free"
	llama33 = "meta-llama/llama-3.3-70b-instruct:free"
)

type fakeUpstream struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, model string, call int) (*providers.Completion, error)
}

func (f *fakeUpstream) ChatCompletion(ctx context.Context, model string, messages []providers.ChatMessage) (*providers.Completion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, model)
	n := len(f.calls)
	f.mu.Unlock()
	return f.fn(ctx, model, n)
}

func (f *fakeUpstream) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func statusErr(model string, code int) error {
	return &providers.UpstreamError{Model: model, StatusCode: code, Err: errors.New(http.StatusText(code))}
}

func answer(model, content string) *providers.Completion {
	return &providers.Completion{Model: model, Role: providers.RoleAssistant, Content: content}
}

func userMessages() []providers.ChatMessage {
	return []providers.ChatMessage{{Role: providers.RoleUser, Content: "hello"}}
}

func newDispatcher(up providers.ChatCompleter, cfg Config) *Dispatcher {
	return New(catalog.Default(), up, cfg)
}

func TestChat_RequestedModelSucceeds(t *testing.T) {
	up := &fakeUpstream{fn: func(_ context.Context, model string, _ int) (*providers.Completion, error) {
		return answer(model, "hi there"), nil
	}}
	d := newDispatcher(up, Config{})

	res, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: r1})
	require.NoError(t, err)

	assert.Equal(t, "hi there", res.Message.Content)
	assert.Equal(t, providers.RoleAssistant, res.Message.Role)
	assert.Equal(t, r1, res.RequestedModel)
	assert.Equal(t, r1, res.ServedModel)
	assert.False(t, res.Substituted)
	require.Len(t, res.Attempts, 1)
	assert.True(t, res.Attempts[0].Succeeded)
	assert.Equal(t, []string{r1}, up.Calls())
}

func TestChat_FallsBackAfterRateLimits(t *testing.T) {
	up := &fakeUpstream{fn: func(_ context.Context, model string, call int) (*providers.Completion, error) {
		if call <= 2 {
			return nil, statusErr(model, http.StatusTooManyRequests)
		}
		return answer(model, "from the third model"), nil
	}}
	d := newDispatcher(up, Config{})

	res, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: r1})
	require.NoError(t, err)

	calls := up.Calls()
	require.Len(t, calls, 3)
	third := calls[2]
	assert.Equal(t, d.AttemptOrder(Request{Model: r1})[:3], calls)

	assert.True(t, res.Substituted)
	assert.Equal(t, third, res.ServedModel)
	assert.True(t, strings.HasPrefix(res.Message.Content, "from the third model"))
	assert.True(t, strings.HasSuffix(res.Message.Content, SubstitutionNote(r1, third)))
	assert.Contains(t, res.Message.Content, third)

	require.Len(t, res.Attempts, 3)
	assert.False(t, res.Attempts[0].Succeeded)
	assert.False(t, res.Attempts[1].Succeeded)
	assert.True(t, res.Attempts[2].Succeeded)
}

func TestChat_AuthRejectedStopsImmediately(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			up := &fakeUpstream{fn: func(_ context.Context, model string, _ int) (*providers.Completion, error) {
				return nil, statusErr(model, code)
			}}
			d := newDispatcher(up, Config{})

			res, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: r1})
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrAuthRejected)
			assert.False(t, errors.Is(err, ErrExhausted))

			var upstreamErr *providers.UpstreamError
			require.True(t, errors.As(err, &upstreamErr))
			assert.Equal(t, code, upstreamErr.StatusCode)

			assert.Len(t, up.Calls(), 1)
		})
	}
}

func TestChat_AuthRejectedOnSubstitute(t *testing.T) {
	up := &fakeUpstream{fn: func(_ context.Context, model string, call int) (*providers.Completion, error) {
		if call == 1 {
			return nil, statusErr(model, http.StatusServiceUnavailable)
		}
		return nil, statusErr(model, http.StatusUnauthorized)
	}}
	d := newDispatcher(up, Config{})

	_, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: r1})
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.Len(t, up.Calls(), 2)
}

func TestChat_EmptyContentBecomesPlaceholder(t *testing.T) {
	up := &fakeUpstream{fn: func(_ context.Context, model string, _ int) (*providers.Completion, error) {
		return answer(model, ""), nil
	}}
	d := newDispatcher(up, Config{})

	res, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: r1})
	require.NoError(t, err)
	assert.Equal(t, NoResponsePlaceholder, res.Message.Content)
	assert.False(t, res.Refused)
}

func TestChat_RefusalIsSurfaced(t *testing.T) {
	up := &fakeUpstream{fn: func(_ context.Context, model string, _ int) (*providers.Completion, error) {
		return &providers.Completion{Model: model, Refusal: "I can't help with that."}, nil
	}}
	d := newDispatcher(up, Config{})

	res, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: r1})
	require.NoError(t, err)
	assert.Equal(t, RefusalPrefix+"I can't help with that.", res.Message.Content)
	assert.True(t, res.Refused)
	assert.Equal(t, providers.RoleAssistant, res.Message.Role)
}

func TestChat_ContentWinsOverRefusal(t *testing.T) {
	up := &fakeUpstream{fn: func(_ context.Context, model string, _ int) (*providers.Completion, error) {
		return &providers.Completion{Model: model, Content: "partial answer", Refusal: "ignored"}, nil
	}}
	d := newDispatcher(up, Config{})

	res, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: r1})
	require.NoError(t, err)
	assert.Equal(t, "partial answer", res.Message.Content)
	assert.False(t, res.Refused)
}

func TestChat_AnnotationAppendedToEmptySubstituteContent(t *testing.T) {
	up := &fakeUpstream{fn: func(_ context.Context, model string, call int) (*providers.Completion, error) {
		if call == 1 {
			return nil, statusErr(model, http.StatusBadGateway)
		}
		return answer(model, ""), nil
	}}
	d := newDispatcher(up, Config{})

	res, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: r1})
	require.NoError(t, err)
	assert.Equal(t, NoResponsePlaceholder+SubstitutionNote(r1, res.ServedModel), res.Message.Content)
}

func TestChat_AllCandidatesFail(t *testing.T) {
	up := &fakeUpstream{fn: func(_ context.Context, model string, _ int) (*providers.Completion, error) {
		return nil, statusErr(model, http.StatusInternalServerError)
	}}
	d := newDispatcher(up, Config{})

	req := Request{Messages: userMessages(), Model: r1}
	order := d.AttemptOrder(req)

	res, err := d.Chat(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrExhausted)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Len(t, exhausted.Attempts, len(order))
	assert.Equal(t, order, exhausted.Models())
	assert.Equal(t, order, up.Calls())

	var upstreamErr *providers.UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, order[len(order)-1], upstreamErr.Model)
	assert.Equal(t, http.StatusInternalServerError, upstreamErr.StatusCode)
}

func TestChat_NoFallbackMakesOneAttempt(t *testing.T) {
	up := &fakeUpstream{fn: func(_ context.Context, model string, _ int) (*providers.Completion, error) {
		return nil, statusErr(model, http.StatusTooManyRequests)
	}}
	d := newDispatcher(up, Config{})

	_, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: r1, NoFallback: true})

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Len(t, exhausted.Attempts, 1)
	assert.Equal(t, []string{r1}, up.Calls())
}

func TestChat_UnknownModelFallsBackToGeneral(t *testing.T) {
	up := &fakeUpstream{fn: func(_ context.Context, model string, call int) (*providers.Completion, error) {
		if call == 1 {
			return nil, statusErr(model, http.StatusNotFound)
		}
		return answer(model, "ok"), nil
	}}
	d := newDispatcher(up, Config{})

	res, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: "vendor/retired-model"})
	require.NoError(t, err)
	assert.Equal(t, llama33, res.ServedModel)
	assert.Equal(t, []string{"vendor/retired-model", llama33}, up.Calls())
}

func TestChat_NetworkErrorIsRetryable(t *testing.T) {
	up := &fakeUpstream{fn: func(_ context.Context, model string, call int) (*providers.Completion, error) {
		if call == 1 {
			return nil, &providers.UpstreamError{Model: model, Err: errors.New("connection reset by peer")}
		}
		return answer(model, "ok"), nil
	}}
	d := newDispatcher(up, Config{})

	res, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: r1})
	require.NoError(t, err)
	assert.Equal(t, r1t2, res.ServedModel)
}

func TestChat_NilCompletionIsRetryable(t *testing.T) {
	up := &fakeUpstream{fn: func(_ context.Context, model string, call int) (*providers.Completion, error) {
		if call == 1 {
			return nil, nil
		}
		return answer(model, "ok"), nil
	}}
	d := newDispatcher(up, Config{})

	res, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: r1})
	require.NoError(t, err)
	assert.True(t, res.Substituted)
	assert.ErrorIs(t, res.Attempts[0].Err, providers.ErrNoChoices)
}

func TestChat_MissingCredentials(t *testing.T) {
	d := newDispatcher(nil, Config{})

	_, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: r1})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestChat_InvalidRequest(t *testing.T) {
	up := &fakeUpstream{fn: func(_ context.Context, model string, _ int) (*providers.Completion, error) {
		return answer(model, "unused"), nil
	}}
	d := newDispatcher(up, Config{})

	_, err := d.Chat(context.Background(), Request{Model: r1})
	assert.ErrorIs(t, err, ErrNoMessages)

	_, err = d.Chat(context.Background(), Request{Messages: userMessages(), Model: "  "})
	assert.ErrorIs(t, err, ErrNoModel)

	assert.Empty(t, up.Calls())
}

func TestChat_CancellationAbortsInFlightAttempt(t *testing.T) {
	started := make(chan struct{}, 1)
	up := &fakeUpstream{fn: func(ctx context.Context, model string, _ int) (*providers.Completion, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, &providers.UpstreamError{Model: model, Err: ctx.Err()}
	}}
	d := newDispatcher(up, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := d.Chat(ctx, Request{Messages: userMessages(), Model: r1})
		done <- err
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, errors.Is(err, ErrExhausted))
	case <-time.After(2 * time.Second):
		t.Fatal("Chat did not return after cancellation")
	}
	assert.Len(t, up.Calls(), 1)
}

func TestChat_CancelledBeforeStart(t *testing.T) {
	up := &fakeUpstream{fn: func(_ context.Context, model string, _ int) (*providers.Completion, error) {
		return answer(model, "unused"), nil
	}}
	d := newDispatcher(up, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Chat(ctx, Request{Messages: userMessages(), Model: r1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, up.Calls())
}

func TestChat_AttemptTimeoutMovesToNextModel(t *testing.T) {
	up := &fakeUpstream{fn: func(ctx context.Context, model string, call int) (*providers.Completion, error) {
		if call == 1 {
			<-ctx.Done()
			return nil, &providers.UpstreamError{Model: model, Err: ctx.Err()}
		}
		return answer(model, "fast answer"), nil
	}}
	d := newDispatcher(up, Config{AttemptTimeout: 20 * time.Millisecond})

	res, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: r1})
	require.NoError(t, err)
	assert.Equal(t, r1t2, res.ServedModel)
	assert.ErrorIs(t, res.Attempts[0].Err, context.DeadlineExceeded)
}

func TestChat_DeadlineEndsSequence(t *testing.T) {
	up := &fakeUpstream{fn: func(ctx context.Context, model string, _ int) (*providers.Completion, error) {
		<-ctx.Done()
		return nil, &providers.UpstreamError{Model: model, Err: ctx.Err()}
	}}
	d := newDispatcher(up, Config{Deadline: 30 * time.Millisecond})

	_, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: r1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Len(t, exhausted.Attempts, 1)
	assert.Len(t, up.Calls(), 1)
}

func TestChat_ConcurrentRequests(t *testing.T) {
	up := &fakeUpstream{fn: func(_ context.Context, model string, _ int) (*providers.Completion, error) {
		return answer(model, "ok"), nil
	}}
	d := newDispatcher(up, Config{})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: llama33})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, up.Calls(), 20)
}
