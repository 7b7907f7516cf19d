package catalog

import (
	"context"
	"math"
	"strings"
	"unicode/utf8"

	"ingredient-recognizer/internal/core/recognition"
	"ingredient-recognizer/internal/pkg/common"

	"go.uber.org/zap"
)

// genericTerms 過於籠統的詞不做子字串比對
var genericTerms = map[string]struct{}{
	"food": {}, "fruit": {}, "vegetable": {}, "meat": {}, "fish": {},
	"dairy": {}, "grain": {}, "spice": {}, "herb": {},
}

const minSubstringLength = 3

// MatchOptions 比對門檻與各層信心值
type MatchOptions struct {
	SubstringSimilarity float64
	FuzzySimilarity     float64
	ExactConfidence     float64
	MorphConfidence     float64
	SubstringConfidence float64
	Consolidate         recognition.ConsolidateOptions
}

// DefaultMatchOptions 預設比對參數
func DefaultMatchOptions() MatchOptions {
	return MatchOptions{
		SubstringSimilarity: 0.6,
		FuzzySimilarity:     0.8,
		ExactConfidence:     0.9,
		MorphConfidence:     0.9,
		SubstringConfidence: 0.7,
		Consolidate:         recognition.DefaultConsolidateOptions(),
	}
}

// Matcher 將候選名稱對應到目錄中的標準食材
type Matcher struct {
	cache *Cache
	opts  MatchOptions
}

// NewMatcher 創建目錄比對器
func NewMatcher(cache *Cache, opts MatchOptions) *Matcher {
	return &Matcher{cache: cache, opts: opts}
}

// Match 依序嘗試精確、單複數、子字串與模糊比對，未命中的候選直接捨棄
func (m *Matcher) Match(ctx context.Context, candidates []common.RawCandidate) ([]common.ProcessedIngredient, error) {
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		name := common.NormalizeName(c.Name)
		if name == "" || !IsLatin(name) {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return []common.ProcessedIngredient{}, nil
	}

	if err := m.cache.EnsureFresh(ctx); err != nil {
		return nil, err
	}
	snap := m.cache.Snapshot()

	detections := make([]recognition.Detection, 0, len(names))
	for _, name := range names {
		d, ok := m.matchOne(snap, name)
		if !ok {
			common.LogDebug("No catalog match", zap.String("name", name))
			continue
		}
		detections = append(detections, d)
	}
	return recognition.Consolidate(detections, m.opts.Consolidate), nil
}

func (m *Matcher) matchOne(snap *Snapshot, name string) (recognition.Detection, bool) {
	if e, ok := snap.Lookup(name); ok {
		return detection(name, e, m.opts.ExactConfidence, common.SourceCatalogExact), true
	}

	for _, v := range morphVariants(name) {
		if e, ok := snap.Lookup(v); ok {
			return detection(v, e, m.opts.MorphConfidence, common.SourceCatalogExact), true
		}
	}

	if _, generic := genericTerms[name]; !generic && utf8.RuneCountInString(name) >= minSubstringLength {
		best, bestSim := "", 0.0
		for _, entry := range snap.Names() {
			if !strings.Contains(entry, name) {
				continue
			}
			if sim := Similarity(name, entry); sim > m.opts.SubstringSimilarity && sim > bestSim {
				best, bestSim = entry, sim
			}
		}
		if best != "" {
			e, _ := snap.Lookup(best)
			return detection(best, e, m.opts.SubstringConfidence, common.SourceCatalogPartial), true
		}
	}

	best, bestSim := "", 0.0
	for _, entry := range snap.Names() {
		if sim := Similarity(name, entry); sim > bestSim {
			best, bestSim = entry, sim
		}
	}
	if best != "" && bestSim > m.opts.FuzzySimilarity {
		e, _ := snap.Lookup(best)
		conf := math.Min(bestSim, m.opts.SubstringConfidence)
		return detection(best, e, conf, common.SourceCatalogFuzzy), true
	}
	return recognition.Detection{}, false
}

func detection(key string, e Entry, confidence float64, src common.Source) recognition.Detection {
	category, _ := common.ParseCategory(e.Type)
	return recognition.Detection{
		Name:       key,
		Category:   category,
		Confidence: confidence,
		Source:     src,
	}
}

// morphVariants 單複數轉換的候選
func morphVariants(name string) []string {
	var out []string
	add := func(v string) {
		if v != "" && v != name {
			out = append(out, v)
		}
	}
	if strings.HasSuffix(name, "ies") && len(name) > 3 {
		add(strings.TrimSuffix(name, "ies") + "y")
	}
	if strings.HasSuffix(name, "es") {
		add(strings.TrimSuffix(name, "es"))
	}
	if strings.HasSuffix(name, "s") {
		add(strings.TrimSuffix(name, "s"))
	}
	if strings.HasSuffix(name, "y") {
		add(strings.TrimSuffix(name, "y") + "ies")
	}
	add(name + "s")
	add(name + "es")
	return out
}
