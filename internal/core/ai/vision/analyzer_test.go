package vision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ingredient-recognizer/internal/core/ai/cache"
	"ingredient-recognizer/internal/core/ai/provider"
	"ingredient-recognizer/internal/core/ai/queue"
	"ingredient-recognizer/internal/infrastructure/config"
	"ingredient-recognizer/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider 依序回傳預先設定的結果
type fakeProvider struct {
	model   string
	timeout time.Duration
	mu      sync.Mutex
	results []fakeResult
	calls   int
	prompts []string
}

type fakeResult struct {
	content string
	kind    provider.ErrorKind
}

func (f *fakeProvider) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, req.Prompt)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(f.results) == 0 {
		return nil, provider.NewError(provider.KindStatus, 500, f.model, errors.New("no more results"))
	}
	r := f.results[0]
	f.results = f.results[1:]
	if r.kind != provider.KindUnknown {
		return nil, provider.NewError(r.kind, 0, f.model, errors.New(r.kind.String()))
	}
	return &provider.Response{Content: r.content, Model: f.model}, nil
}

func (f *fakeProvider) GetModel() string { return f.model }

func (f *fakeProvider) GetTimeout() time.Duration { return f.timeout }

func (f *fakeProvider) Close() error { return nil }

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fail(kind provider.ErrorKind) fakeResult { return fakeResult{kind: kind} }

func succeed(content string) fakeResult { return fakeResult{content: content} }

func recordSleep(waits *[]time.Duration) func(time.Duration) {
	return func(d time.Duration) { *waits = append(*waits, d) }
}

var jpeg = []byte{0xff, 0xd8, 0xff, 0xe0}

func TestAnalyzeSuccess(t *testing.T) {
	p := &fakeProvider{model: "primary", results: []fakeResult{succeed(`Sure! [{"name":"Tomato","confidence":0.9}]`)}}
	a := NewAnalyzer(p)

	got, err := a.Analyze(context.Background(), jpeg, "image/jpeg", "en")
	require.NoError(t, err)
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, "Tomato", got.Candidates[0].Name)
	assert.Equal(t, "primary", got.Model)
	assert.False(t, got.Fallback)
}

func TestAnalyzeRetryBackoffByKind(t *testing.T) {
	tests := []struct {
		name  string
		kind  provider.ErrorKind
		waits []time.Duration
	}{
		{"transport", provider.KindTransport, []time.Duration{2 * time.Second, 4 * time.Second}},
		{"overloaded", provider.KindOverloaded, []time.Duration{3 * time.Second, 6 * time.Second}},
		{"rate limited", provider.KindRateLimited, []time.Duration{6 * time.Second, 12 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{model: "primary", results: []fakeResult{fail(tt.kind), fail(tt.kind), succeed(`["onion"]`)}}
			var waits []time.Duration
			a := NewAnalyzer(p, WithSleep(recordSleep(&waits)))

			got, err := a.Analyze(context.Background(), jpeg, "image/jpeg", "en")
			require.NoError(t, err)
			assert.Equal(t, 3, p.Calls())
			assert.Equal(t, tt.waits, waits)
			assert.Equal(t, "onion", got.Candidates[0].Name)
		})
	}
}

func TestAnalyzeExhaustsRetries(t *testing.T) {
	p := &fakeProvider{model: "primary", results: []fakeResult{
		fail(provider.KindRateLimited), fail(provider.KindRateLimited), fail(provider.KindRateLimited), succeed(`[]`),
	}}
	var waits []time.Duration
	a := NewAnalyzer(p, WithSleep(recordSleep(&waits)))

	_, err := a.Analyze(context.Background(), jpeg, "image/jpeg", "en")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRateLimited)
	assert.Equal(t, 3, p.Calls())
	assert.Len(t, waits, 2)
}

func TestAnalyzeTransportExhaustedIsUpstreamUnavailable(t *testing.T) {
	p := &fakeProvider{model: "primary", results: []fakeResult{
		fail(provider.KindTransport), fail(provider.KindTransport), fail(provider.KindTransport),
	}}
	a := NewAnalyzer(p, WithSleep(func(time.Duration) {}))

	_, err := a.Analyze(context.Background(), jpeg, "image/jpeg", "en")
	assert.ErrorIs(t, err, common.ErrUpstreamUnavailable)
}

func TestAnalyzeOtherStatusFailsImmediately(t *testing.T) {
	p := &fakeProvider{model: "primary", results: []fakeResult{fail(provider.KindStatus), succeed(`["onion"]`)}}
	var waits []time.Duration
	a := NewAnalyzer(p, WithSleep(recordSleep(&waits)))

	_, err := a.Analyze(context.Background(), jpeg, "image/jpeg", "en")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUpstreamUnavailable)
	assert.Equal(t, 1, p.Calls())
	assert.Empty(t, waits)
}

func TestAnalyzeModelNotFoundUsesFallbackOnce(t *testing.T) {
	primary := &fakeProvider{model: "primary", timeout: 30 * time.Second, results: []fakeResult{fail(provider.KindModelNotFound)}}
	fallback := &fakeProvider{model: "fallback", timeout: 25 * time.Second, results: []fakeResult{succeed(`[{"name":"basil"}]`)}}
	var waits []time.Duration
	a := NewAnalyzer(primary, WithFallback(fallback), WithSleep(recordSleep(&waits)))

	got, err := a.Analyze(context.Background(), jpeg, "image/jpeg", "it")
	require.NoError(t, err)
	assert.True(t, got.Fallback)
	assert.Equal(t, "fallback", got.Model)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 1, fallback.Calls())
	assert.Empty(t, waits)
	assert.Equal(t, primary.prompts[0], fallback.prompts[0])
}

func TestAnalyzeFallbackFailureIsNotRetried(t *testing.T) {
	primary := &fakeProvider{model: "primary", results: []fakeResult{fail(provider.KindModelNotFound)}}
	fallback := &fakeProvider{model: "fallback", results: []fakeResult{fail(provider.KindOverloaded), succeed(`["x"]`)}}
	a := NewAnalyzer(primary, WithFallback(fallback), WithSleep(func(time.Duration) {}))

	_, err := a.Analyze(context.Background(), jpeg, "image/jpeg", "en")
	assert.ErrorIs(t, err, common.ErrUpstreamUnavailable)
	assert.Equal(t, 1, fallback.Calls())
}

func TestAnalyzeModelNotFoundWithoutFallback(t *testing.T) {
	primary := &fakeProvider{model: "primary", results: []fakeResult{fail(provider.KindModelNotFound)}}
	a := NewAnalyzer(primary)

	_, err := a.Analyze(context.Background(), jpeg, "image/jpeg", "en")
	assert.ErrorIs(t, err, common.ErrModelNotFound)
}

func TestAnalyzeParseError(t *testing.T) {
	p := &fakeProvider{model: "primary", results: []fakeResult{succeed("I can see a tomato and an onion.")}}
	a := NewAnalyzer(p)

	_, err := a.Analyze(context.Background(), jpeg, "image/jpeg", "en")
	assert.ErrorIs(t, err, common.ErrParseError)
	assert.Equal(t, 1, p.Calls())
}

func TestAnalyzeEmptyImage(t *testing.T) {
	a := NewAnalyzer(&fakeProvider{model: "primary"})
	_, err := a.Analyze(context.Background(), nil, "image/jpeg", "en")
	assert.True(t, common.IsValidationError(err))
}

func TestAnalyzeIgnoresCallerCancellation(t *testing.T) {
	p := &fakeProvider{model: "primary", results: []fakeResult{fail(provider.KindTransport), succeed(`["leek"]`)}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := NewAnalyzer(p, WithSleep(func(time.Duration) { cancel() }))

	got, err := a.Analyze(ctx, jpeg, "image/jpeg", "en")
	require.NoError(t, err)
	assert.Equal(t, "leek", got.Candidates[0].Name)
}

func TestAnalyzeUsesResponseCache(t *testing.T) {
	store := cache.NewManager(config.CacheConfig{Enabled: true, MaxSize: 10, TTL: time.Hour})
	defer store.Close()
	p := &fakeProvider{model: "primary", results: []fakeResult{succeed(`["carrot"]`)}}
	a := NewAnalyzer(p, WithCache(store))

	for i := 0; i < 2; i++ {
		got, err := a.Analyze(context.Background(), jpeg, "image/jpeg", "en")
		require.NoError(t, err)
		assert.Equal(t, "carrot", got.Candidates[0].Name)
	}
	assert.Equal(t, 1, p.Calls())
}

func TestAnalyzeCapsCandidates(t *testing.T) {
	p := &fakeProvider{model: "primary", results: []fakeResult{succeed(`["a1","b2","c3","d4"]`)}}
	a := NewAnalyzer(p, WithMaxCandidates(2))

	got, err := a.Analyze(context.Background(), jpeg, "image/jpeg", "en")
	require.NoError(t, err)
	assert.Len(t, got.Candidates, 2)
	assert.Contains(t, p.prompts[0], "at most 2 items")
}

func TestAnalyzeWaitsForLimiter(t *testing.T) {
	q := queue.NewManager(1, 0)
	defer q.Close()
	p := &fakeProvider{model: "primary", results: []fakeResult{succeed(`["fig"]`), succeed(`["fig"]`)}}
	a := NewAnalyzer(p, WithLimiter(q))

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), jpeg, "image/jpeg", "en")
	assert.ErrorIs(t, err, common.ErrServiceUnavailable)
	assert.Equal(t, 0, p.Calls())

	release()
	got, err := a.Analyze(context.Background(), jpeg, "image/jpeg", "en")
	require.NoError(t, err)
	assert.Equal(t, "fig", got.Candidates[0].Name)
	assert.EqualValues(t, 2, q.GetQueueStatus().ProcessedCount)
}
