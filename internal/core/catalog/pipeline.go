package catalog

import (
	"context"

	"ingredient-recognizer/internal/pkg/common"

	"go.uber.org/zap"
)

// Tagger 通用物件標籤服務
type Tagger interface {
	Tag(ctx context.Context, image []byte, mimeType string) ([]common.RawCandidate, error)
}

// Pipeline 標籤服務加目錄比對的辨識流程
type Pipeline struct {
	tagger  Tagger
	matcher *Matcher
}

// NewPipeline 創建目錄辨識流程
func NewPipeline(tagger Tagger, matcher *Matcher) *Pipeline {
	return &Pipeline{tagger: tagger, matcher: matcher}
}

// Recognize 先取得圖片標籤，再對應到目錄食材
func (p *Pipeline) Recognize(ctx context.Context, image []byte, mimeType string) ([]common.ProcessedIngredient, error) {
	if len(image) == 0 {
		return nil, common.NewValidationError("image is empty")
	}

	tags, err := p.tagger.Tag(ctx, image, mimeType)
	if err != nil {
		return nil, err
	}
	common.LogDebug("Tagger returned tags", zap.Int("count", len(tags)))

	return p.matcher.Match(ctx, tags)
}

// Matcher 取得比對器
func (p *Pipeline) Matcher() *Matcher {
	return p.matcher
}
