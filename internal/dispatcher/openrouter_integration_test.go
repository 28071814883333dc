package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat_gateway/internal/catalog"
	"chat_gateway/internal/providers"
)

// fakeOpenRouter answers chat completions with a scripted status per call
type fakeOpenRouter struct {
	mu       sync.Mutex
	models   []string
	statuses []int
	content  string
}

func (f *fakeOpenRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Model string `json:"model"`
	}
	data, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(data, &body)

	f.mu.Lock()
	f.models = append(f.models, body.Model)
	call := len(f.models)
	status := http.StatusOK
	if call <= len(f.statuses) {
		status = f.statuses[call-1]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":{"message":"upstream failure","code":"x"}}`)
		return
	}
	_, _ = fmt.Fprintf(w, `{"id":"gen","object":"chat.completion","created":1,"model":%q,
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%q}}]}`, body.Model, f.content)
}

func (f *fakeOpenRouter) Models() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.models...)
}

func newOpenRouterDispatcher(t *testing.T, upstream http.Handler) *Dispatcher {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	p, err := providers.NewOpenRouterProvider(providers.OpenRouterConfig{
		APIKey:     "sk-test",
		BaseURL:    srv.URL,
		HTTPClient: &http.Client{Transport: &http.Transport{DisableKeepAlives: true}},
	})
	require.NoError(t, err)
	return New(catalog.Default(), p, Config{})
}

func TestOpenRouter_TwoRateLimitsThenSuccess(t *testing.T) {
	upstream := &fakeOpenRouter{
		statuses: []int{http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusOK},
		content:  "served by a substitute",
	}
	d := newOpenRouterDispatcher(t, upstream)

	res, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: r1})
	require.NoError(t, err)

	calls := upstream.Models()
	require.Len(t, calls, 3)
	assert.Equal(t, calls[2], res.ServedModel)
	assert.True(t, strings.HasSuffix(res.Message.Content, "Switched to "+calls[2]+"]*"))
}

func TestOpenRouter_UnauthorizedMakesOneCall(t *testing.T) {
	upstream := &fakeOpenRouter{statuses: []int{http.StatusUnauthorized}}
	d := newOpenRouterDispatcher(t, upstream)

	_, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: r1})
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.Len(t, upstream.Models(), 1)
}

func TestOpenRouter_AllServerErrors(t *testing.T) {
	order := catalog.Default().AttemptOrder(llama33, true)
	statuses := make([]int, len(order))
	for i := range statuses {
		statuses[i] = http.StatusInternalServerError
	}
	upstream := &fakeOpenRouter{statuses: statuses}
	d := newOpenRouterDispatcher(t, upstream)

	_, err := d.Chat(context.Background(), Request{Messages: userMessages(), Model: llama33})

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Len(t, exhausted.Attempts, len(order))
	assert.Equal(t, order, upstream.Models())
}
