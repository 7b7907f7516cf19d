package recognition

import (
	"context"
	"errors"
	"fmt"

	"ingredient-recognizer/internal/core/ai/vision"
	"ingredient-recognizer/internal/pkg/common"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// Candidates 單一來源回傳的候選
type Candidates struct {
	Items  []common.RawCandidate
	Source common.Source
}

// Source 辨識來源
type Source interface {
	Name() string
	Detect(ctx context.Context, image []byte, mimeType, language string) (*Candidates, error)
}

// VisionSource 以影像模型作為辨識來源
type VisionSource struct {
	analyzer *vision.Analyzer
}

// NewVisionSource 創建影像模型來源
func NewVisionSource(a *vision.Analyzer) *VisionSource {
	return &VisionSource{analyzer: a}
}

// Name 來源名稱
func (v *VisionSource) Name() string {
	return "vision:" + v.analyzer.Model()
}

// Detect 呼叫影像模型，使用備援模型時標記來源
func (v *VisionSource) Detect(ctx context.Context, image []byte, mimeType, language string) (*Candidates, error) {
	analysis, err := v.analyzer.Analyze(ctx, image, mimeType, language)
	if err != nil {
		return nil, err
	}
	src := common.SourcePrimaryModel
	if analysis.Fallback {
		src = common.SourceFallbackModel
	}
	return &Candidates{Items: analysis.Candidates, Source: src}, nil
}

// Options 辨識服務參數
type Options struct {
	Consolidate       ConsolidateOptions
	DefaultConfidence float64
}

// Service 辨識服務
type Service struct {
	sources    []Source
	classifier *Classifier
	opts       Options
}

// NewService 創建辨識服務
func NewService(classifier *Classifier, opts Options, sources ...Source) *Service {
	return &Service{
		sources:    sources,
		classifier: classifier,
		opts:       opts,
	}
}

// Recognize 並行呼叫所有來源，等待全部完成後整併結果
// 沒有辨識到任何食材時回傳空切片，不是錯誤。
func (s *Service) Recognize(ctx context.Context, image []byte, mimeType, language string) ([]common.ProcessedIngredient, error) {
	if len(image) == 0 {
		return nil, common.NewValidationError("image is empty")
	}
	if len(s.sources) == 0 {
		return nil, common.Wrap(common.ErrServiceUnavailable, errors.New("no recognition source configured"))
	}

	results := make([]*Candidates, len(s.sources))
	errs := make([]error, len(s.sources))

	var wg conc.WaitGroup
	for i, src := range s.sources {
		i, src := i, src
		wg.Go(func() {
			results[i], errs[i] = src.Detect(ctx, image, mimeType, language)
		})
	}
	wg.Wait()

	var ok []*Candidates
	var failed []error
	for i, err := range errs {
		if err != nil {
			common.LogWarn("Recognition source failed",
				zap.String("source", s.sources[i].Name()),
				zap.Error(err),
			)
			failed = append(failed, err)
			continue
		}
		ok = append(ok, results[i])
	}

	if len(ok) == 0 {
		if len(failed) == 1 {
			return nil, failed[0]
		}
		return nil, fmt.Errorf("all recognition sources failed: %w", errors.Join(failed...))
	}

	out := s.Process(ok...)
	common.LogInfo("Recognition completed",
		zap.Int("sources", len(s.sources)),
		zap.Int("failed", len(failed)),
		zap.Strings("ingredients", common.IngredientNames(out)),
	)
	return out, nil
}

// Process 正規化、過濾非食材、分類並整併候選
func (s *Service) Process(batches ...*Candidates) []common.ProcessedIngredient {
	var detections []Detection
	for _, b := range batches {
		if b == nil {
			continue
		}
		for _, c := range b.Items {
			name := common.NormalizeName(c.Name)
			if !s.classifier.IsFood(name) {
				common.LogDebug("Dropped non-food candidate", zap.String("name", name))
				continue
			}
			detections = append(detections, Detection{
				Name:       name,
				Category:   s.classifier.Categorize(name),
				Confidence: c.ConfidenceOr(s.opts.DefaultConfidence),
				Source:     b.Source,
			})
		}
	}
	return Consolidate(detections, s.opts.Consolidate)
}
