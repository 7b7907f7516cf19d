package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ingredient-recognizer/internal/api"
	"ingredient-recognizer/internal/core/ai/cache"
	"ingredient-recognizer/internal/core/ai/gemini"
	"ingredient-recognizer/internal/core/ai/openrouter"
	"ingredient-recognizer/internal/core/ai/provider"
	"ingredient-recognizer/internal/core/ai/queue"
	"ingredient-recognizer/internal/core/ai/tagger"
	"ingredient-recognizer/internal/core/ai/vision"
	"ingredient-recognizer/internal/core/catalog"
	"ingredient-recognizer/internal/core/image"
	"ingredient-recognizer/internal/core/recognition"
	"ingredient-recognizer/internal/infrastructure/config"
	"ingredient-recognizer/internal/pkg/common"

	"go.uber.org/zap"
)

// App 組裝完成的辨識服務
type App struct {
	Images      *image.Service
	Analyzer    *vision.Analyzer
	Queue       *queue.Manager
	Recognition *recognition.Service
	Catalog     *catalog.Client
	CatalogData *catalog.Cache
	Matcher     *catalog.Matcher
	Pipeline    *catalog.Pipeline

	store cache.Store
}

// New 依設定建立所有服務，未設定的流程保持 nil
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Images: image.NewService(cfg.Image.MaxSizeBytes)}

	store, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize response cache: %w", err)
	}
	a.store = store

	if err := a.initVision(ctx, cfg); err != nil {
		_ = a.Close()
		return nil, err
	}
	a.initCatalog(cfg)

	common.LogInfo("Services initialized",
		zap.Bool("vision_enabled", a.Recognition != nil),
		zap.Bool("catalog_enabled", a.Matcher != nil),
		zap.Bool("tagger_enabled", a.Pipeline != nil),
		zap.Bool("cache_enabled", store != nil),
		zap.String("cache_backend", cfg.Cache.Backend),
	)
	return a, nil
}

func (a *App) initVision(ctx context.Context, cfg *config.Config) error {
	v := cfg.Vision
	if v.APIKey == "" {
		common.LogWarn("Vision API key is not set, vision recognition disabled",
			zap.String("provider", v.Provider),
		)
		return nil
	}

	primary, err := newProvider(ctx, v.Provider, v, v.Model, v.Timeout)
	if err != nil {
		return fmt.Errorf("failed to initialize vision provider: %w", err)
	}

	a.Queue = queue.NewManager(cfg.Queue.Workers, cfg.Queue.MaxSize)
	opts := []vision.Option{
		vision.WithRetryPolicy(vision.RetryPolicy{MaxAttempts: v.MaxAttempts, Backoff: vision.LinearBackoff}),
		vision.WithMaxCandidates(v.MaxCandidates),
		vision.WithLimiter(a.Queue),
	}
	if v.FallbackModel != "" && v.FallbackModel != v.Model {
		fallback, err := newProvider(ctx, v.FallbackProvider, v, v.FallbackModel, v.FallbackTimeout)
		if err != nil {
			_ = primary.Close()
			return fmt.Errorf("failed to initialize fallback vision provider: %w", err)
		}
		opts = append(opts, vision.WithFallback(fallback))
	}
	if a.store != nil {
		opts = append(opts, vision.WithCache(a.store))
	}
	a.Analyzer = vision.NewAnalyzer(primary, opts...)

	tables, err := recognition.LoadTables(cfg.Recognition.TablesPath)
	if err != nil {
		return fmt.Errorf("failed to load recognition tables: %w", err)
	}
	classifier, err := recognition.NewClassifier(tables, cfg.Recognition.DominanceRatio)
	if err != nil {
		return fmt.Errorf("failed to build classifier: %w", err)
	}

	r := cfg.Recognition
	a.Recognition = recognition.NewService(classifier, recognition.Options{
		Consolidate: recognition.ConsolidateOptions{
			Threshold:  r.ConfidenceThreshold,
			MaxResults: r.MaxResults,
			Boost:      r.CorroborationBoost,
		},
		DefaultConfidence: r.DefaultConfidence,
	}, recognition.NewVisionSource(a.Analyzer))

	common.LogInfo("Vision recognition enabled",
		zap.String("provider", v.Provider),
		zap.String("model", v.Model),
		zap.String("fallback_model", v.FallbackModel),
		zap.String("api_key", common.MaskSecret(v.APIKey)),
	)
	return nil
}

func (a *App) initCatalog(cfg *config.Config) {
	c := cfg.Catalog
	if !c.Enabled {
		return
	}

	a.Catalog = catalog.NewClient(c.BaseURL, c.ListPath, c.Timeout)
	a.CatalogData = catalog.NewCache(a.Catalog, c.TTL, c.ServeStale)

	r := cfg.Recognition
	a.Matcher = catalog.NewMatcher(a.CatalogData, catalog.MatchOptions{
		SubstringSimilarity: c.SubstringSimilarity,
		FuzzySimilarity:     c.FuzzySimilarity,
		ExactConfidence:     c.ExactConfidence,
		MorphConfidence:     c.MorphConfidence,
		SubstringConfidence: c.SubstringConfidence,
		Consolidate: recognition.ConsolidateOptions{
			Threshold:  r.ConfidenceThreshold,
			MaxResults: r.MaxResults,
			Boost:      r.CorroborationBoost,
		},
	})

	if cfg.Tagger.Enabled {
		t := tagger.NewClient(cfg.Tagger.BaseURL, cfg.Tagger.APIKey, cfg.Tagger.Timeout)
		a.Pipeline = catalog.NewPipeline(t, a.Matcher)
	}
}

func newProvider(ctx context.Context, name string, v config.VisionConfig, model string, timeout time.Duration) (provider.Provider, error) {
	switch name {
	case "gemini":
		return gemini.NewClient(ctx, v.APIKey, model, timeout, v.MaxTokens)
	case "openrouter":
		return openrouter.NewClient(v.APIKey, v.BaseURL, model, timeout, v.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unsupported vision provider %q", name)
	}
}

// Dependencies 轉為路由需要的服務，未啟用的流程不放入介面
func (a *App) Dependencies() api.Dependencies {
	deps := api.Dependencies{Images: a.Images}
	if a.Recognition != nil {
		deps.Recognizer = a.Recognition
		deps.Queue = a.Queue
	}
	if a.Pipeline != nil {
		deps.Tags = a.Pipeline
	}
	if a.Matcher != nil {
		deps.Matcher = a.Matcher
	}
	if a.Catalog != nil {
		deps.Catalog = a.Catalog
		deps.CatalogStats = a.CatalogData
	}
	return deps
}

// Close 釋放模型連線與緩存
func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		a.Queue.Close()
	}
	if a.Analyzer != nil {
		errs = append(errs, a.Analyzer.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
