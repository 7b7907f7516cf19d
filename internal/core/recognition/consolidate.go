package recognition

import (
	"math"
	"sort"

	"ingredient-recognizer/internal/pkg/common"
)

// Detection 整併前的單筆辨識結果
type Detection struct {
	Name       string
	Category   common.Category
	Confidence float64
	Source     common.Source
}

// ConsolidateOptions 整併參數
type ConsolidateOptions struct {
	Threshold  float64
	MaxResults int
	Boost      float64
}

// DefaultConsolidateOptions 預設門檻 0.5、最多 12 筆、重複加成 0.15
func DefaultConsolidateOptions() ConsolidateOptions {
	return ConsolidateOptions{Threshold: 0.5, MaxResults: 12, Boost: 0.15}
}

// Consolidate 依正規化名稱去重、合併信心值、過濾、排序並截斷
// 沒有結果時回傳空切片而不是 nil。
func Consolidate(detections []Detection, opts ConsolidateOptions) []common.ProcessedIngredient {
	index := make(map[string]int, len(detections))
	merged := make([]common.ProcessedIngredient, 0, len(detections))

	for _, d := range detections {
		key := common.NormalizeName(d.Name)
		if key == "" {
			continue
		}
		conf := common.ClampConfidence(d.Confidence)

		i, seen := index[key]
		if !seen {
			index[key] = len(merged)
			merged = append(merged, common.ProcessedIngredient{
				Name:       key,
				Category:   d.Category,
				Confidence: conf,
				Source:     d.Source,
			})
			continue
		}

		existing := merged[i]
		boosted := math.Min(math.Max(existing.Confidence, conf)+opts.Boost, 1.0)
		if conf > existing.Confidence {
			existing.Category = d.Category
			existing.Source = d.Source
		}
		existing.Confidence = boosted
		merged[i] = existing
	}

	out := make([]common.ProcessedIngredient, 0, len(merged))
	for _, m := range merged {
		if m.Confidence >= opts.Threshold {
			out = append(out, m)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})

	if opts.MaxResults > 0 && len(out) > opts.MaxResults {
		out = out[:opts.MaxResults]
	}
	return out
}
