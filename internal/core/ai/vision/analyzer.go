package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ingredient-recognizer/internal/core/ai/cache"
	"ingredient-recognizer/internal/core/ai/provider"
	"ingredient-recognizer/internal/pkg/common"

	"go.uber.org/zap"
)

// Analysis 單次影像分析結果
type Analysis struct {
	Candidates []common.RawCandidate
	Model      string
	Fallback   bool
}

// Analyzer 影像辨識分析器
type Analyzer struct {
	primary       provider.Provider
	fallback      provider.Provider
	policy        RetryPolicy
	maxCandidates int
	cache         cache.Store
	limiter       Limiter
	sleep         func(time.Duration)
}

// Limiter 限制同時進行的模型呼叫
type Limiter interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Option 分析器選項
type Option func(*Analyzer)

// WithFallback 設定模型不存在時使用的備援提供者
func WithFallback(p provider.Provider) Option {
	return func(a *Analyzer) { a.fallback = p }
}

// WithRetryPolicy 設定重試策略
func WithRetryPolicy(p RetryPolicy) Option {
	return func(a *Analyzer) { a.policy = p }
}

// WithCache 設定回應緩存
func WithCache(s cache.Store) Option {
	return func(a *Analyzer) { a.cache = s }
}

// WithLimiter 設定並行限制
func WithLimiter(l Limiter) Option {
	return func(a *Analyzer) { a.limiter = l }
}

// WithMaxCandidates 設定每次請求的候選上限
func WithMaxCandidates(n int) Option {
	return func(a *Analyzer) { a.maxCandidates = clampCandidates(n) }
}

// WithSleep 替換等待函式，測試用
func WithSleep(fn func(time.Duration)) Option {
	return func(a *Analyzer) { a.sleep = fn }
}

// NewAnalyzer 創建分析器
func NewAnalyzer(primary provider.Provider, opts ...Option) *Analyzer {
	a := &Analyzer{
		primary:       primary,
		policy:        DefaultRetryPolicy(),
		maxCandidates: maxCandidates,
		sleep:         time.Sleep,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.policy.MaxAttempts < 1 {
		a.policy.MaxAttempts = 1
	}
	if a.policy.Backoff == nil {
		a.policy.Backoff = LinearBackoff
	}
	return a
}

// Model 主要模型名稱
func (a *Analyzer) Model() string {
	return a.primary.GetModel()
}

// cachedResponse 緩存中保存的原始模型回應
type cachedResponse struct {
	Content  string `json:"content"`
	Model    string `json:"model"`
	Fallback bool   `json:"fallback"`
}

// Analyze 分析圖片並回傳候選食材
// 一旦開始，重試流程不受呼叫端取消影響，只受單次請求超時限制。
func (a *Analyzer) Analyze(ctx context.Context, image []byte, mimeType, language string) (*Analysis, error) {
	if len(image) == 0 {
		return nil, common.NewValidationError("image is empty")
	}

	waitCtx := ctx
	ctx = context.WithoutCancel(ctx)
	req := &provider.Request{
		Prompt:   BuildPrompt(language, a.maxCandidates),
		Image:    image,
		MIMEType: mimeType,
	}

	key := cache.Key(a.primary.GetModel(), matchLanguage(language).String(), image)
	if cached, ok := a.lookup(ctx, key); ok {
		return a.parse(cached)
	}

	// 排隊等待可被呼叫端取消，取得名額後才進入不可取消的重試流程
	if a.limiter != nil {
		release, err := a.limiter.Acquire(waitCtx)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	resp, fallback, err := a.generate(ctx, req)
	if err != nil {
		return nil, err
	}

	out := cachedResponse{Content: resp.Content, Model: resp.Model, Fallback: fallback}
	analysis, err := a.parse(out)
	if err != nil {
		return nil, err
	}
	a.store(ctx, key, out)
	return analysis, nil
}

func (a *Analyzer) parse(r cachedResponse) (*Analysis, error) {
	candidates, err := ParseCandidates(r.Content, a.maxCandidates)
	if err != nil {
		common.LogWarn("Failed to parse vision response",
			zap.String("model", r.Model),
			zap.Error(err),
		)
		return nil, err
	}
	return &Analysis{Candidates: candidates, Model: r.Model, Fallback: r.Fallback}, nil
}

// generate 在主要模型上重試，模型不存在時改用備援模型一次
func (a *Analyzer) generate(ctx context.Context, req *provider.Request) (*provider.Response, bool, error) {
	var lastErr error
	for attempt := 1; attempt <= a.policy.MaxAttempts; attempt++ {
		resp, err := a.call(ctx, a.primary, attempt, req)
		if err == nil {
			return resp, false, nil
		}
		lastErr = err

		kind := provider.KindOf(err)
		if kind == provider.KindModelNotFound {
			return a.generateFallback(ctx, req, err)
		}
		if !kind.Retryable() {
			return nil, false, toCustomError(err)
		}
		if attempt < a.policy.MaxAttempts {
			wait := a.policy.Backoff(attempt, kind)
			common.LogWarn("Vision request failed, retrying",
				zap.String("model", a.primary.GetModel()),
				zap.Int("attempt", attempt),
				zap.String("kind", kind.String()),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
			a.sleep(wait)
		}
	}
	return nil, false, toCustomError(lastErr)
}

func (a *Analyzer) generateFallback(ctx context.Context, req *provider.Request, cause error) (*provider.Response, bool, error) {
	if a.fallback == nil {
		return nil, false, toCustomError(cause)
	}
	common.LogWarn("Primary model not found, using fallback model",
		zap.String("primary", a.primary.GetModel()),
		zap.String("fallback", a.fallback.GetModel()),
	)
	resp, err := a.call(ctx, a.fallback, 1, req)
	if err != nil {
		return nil, true, toCustomError(err)
	}
	return resp, true, nil
}

func (a *Analyzer) call(ctx context.Context, p provider.Provider, attempt int, req *provider.Request) (*provider.Response, error) {
	callCtx := ctx
	if t := p.GetTimeout(); t > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	start := time.Now()
	resp, err := p.Generate(callCtx, req)
	if err != nil && provider.KindOf(err) == provider.KindUnknown {
		// 超時或未分類錯誤視為傳輸錯誤
		err = provider.NewError(provider.KindTransport, 0, p.GetModel(), err)
	}
	common.LogAICall(p.GetModel(), attempt, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if resp.Model == "" {
		resp.Model = p.GetModel()
	}
	return resp, nil
}

func (a *Analyzer) lookup(ctx context.Context, key string) (cachedResponse, bool) {
	if a.cache == nil {
		return cachedResponse{}, false
	}
	data, err := a.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, common.ErrCacheMiss) {
			common.LogWarn("Response cache lookup failed", zap.Error(err))
		}
		return cachedResponse{}, false
	}
	var r cachedResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return cachedResponse{}, false
	}
	return r, true
}

func (a *Analyzer) store(ctx context.Context, key string, r cachedResponse) {
	if a.cache == nil {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, key, data); err != nil {
		common.LogWarn("Response cache store failed", zap.Error(err))
	}
}

// toCustomError 將上游錯誤對應到錯誤分類
func toCustomError(err error) error {
	switch provider.KindOf(err) {
	case provider.KindRateLimited:
		return common.Wrap(common.ErrRateLimited, err)
	case provider.KindModelNotFound:
		return common.Wrap(common.ErrModelNotFound, err)
	default:
		return common.Wrap(common.ErrUpstreamUnavailable, fmt.Errorf("vision request failed: %w", err))
	}
}

// Close 關閉所有提供者
func (a *Analyzer) Close() error {
	var errs []error
	if err := a.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.fallback != nil {
		if err := a.fallback.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
