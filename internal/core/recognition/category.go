package recognition

import (
	"strings"

	"ingredient-recognizer/internal/pkg/common"
)

// Categorize 回傳第一個關鍵字出現在名稱中的分類
func (c *Classifier) Categorize(name string) common.Category {
	name = common.NormalizeName(name)
	for _, rule := range c.categories {
		for _, kw := range rule.Keywords {
			if strings.Contains(name, kw) {
				return rule.Category
			}
		}
	}
	return common.CategoryOther
}
