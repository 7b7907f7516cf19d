package common

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Category 食材分類
type Category string

const (
	CategoryVegetables Category = "vegetables"
	CategoryFruits     Category = "fruits"
	CategoryMeat       Category = "meat"
	CategoryDairy      Category = "dairy"
	CategoryGrains     Category = "grains"
	CategoryLegumes    Category = "legumes"
	CategoryHerbs      Category = "herbs"
	CategorySpices     Category = "spices"
	CategoryCondiments Category = "condiments"
	CategoryOther      Category = "other"
)

// Categories 所有合法分類
var Categories = []Category{
	CategoryVegetables,
	CategoryFruits,
	CategoryMeat,
	CategoryDairy,
	CategoryGrains,
	CategoryLegumes,
	CategoryHerbs,
	CategorySpices,
	CategoryCondiments,
	CategoryOther,
}

// ParseCategory 將字串轉為分類，無法辨識時回傳 false
func ParseCategory(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return CategoryOther, false
}

// Source 辨識結果來源
type Source string

const (
	SourcePrimaryModel   Source = "primary-model"
	SourceFallbackModel  Source = "fallback-model"
	SourceCatalogExact   Source = "catalog-exact"
	SourceCatalogPartial Source = "catalog-partial"
	SourceCatalogFuzzy   Source = "catalog-fuzzy"
)

// RawCandidate 上游服務回傳、尚未驗證的辨識候選
type RawCandidate struct {
	Name       string   `json:"name"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// UnmarshalJSON 接受數字或數字字串形式的 confidence
func (c *RawCandidate) UnmarshalJSON(data []byte) error {
	var aux struct {
		Name       string          `json:"name"`
		Confidence json.RawMessage `json:"confidence"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Name = aux.Name
	c.Confidence = nil

	raw := strings.TrimSpace(string(aux.Confidence))
	if raw == "" || raw == "null" {
		return nil
	}
	raw = strings.Trim(raw, `"`)
	if raw == "" {
		return nil
	}
	// 非數字的 confidence（例如 "high"）視為缺值
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		c.Confidence = &v
	}
	return nil
}

// ConfidenceOr 取得 confidence，缺值時使用預設值，並限制在 [0,1]
func (c RawCandidate) ConfidenceOr(def float64) float64 {
	v := def
	if c.Confidence != nil {
		v = *c.Confidence
	}
	return ClampConfidence(v)
}

// ClampConfidence 將信心值限制在 [0,1]
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Float64 取得 float64 指標
func Float64(v float64) *float64 { return &v }

// ProcessedIngredient 流程輸出的食材
type ProcessedIngredient struct {
	Name       string   `json:"name"`
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Source     Source   `json:"source"`
}

// IngredientNames 取得食材名稱列表
func IngredientNames(items []ProcessedIngredient) []string {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return names
}
