package recognition

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"ingredient-recognizer/internal/pkg/common"
)

const minNameLength = 3

// Classifier 判斷名稱是否為食材並給出分類，不做任何 I/O
type Classifier struct {
	deny           map[string]struct{}
	denyTerms      []string
	allow          []string
	patterns       []*regexp.Regexp
	categories     []CategoryRule
	dominanceRatio float64
}

// NewClassifier 以詞表建立分類器
func NewClassifier(t *Tables, dominanceRatio float64) (*Classifier, error) {
	c := &Classifier{
		deny:           make(map[string]struct{}, len(t.Deny)),
		denyTerms:      t.Deny,
		allow:          t.Allow,
		categories:     t.Categories,
		dominanceRatio: dominanceRatio,
	}
	for _, d := range t.Deny {
		c.deny[d] = struct{}{}
	}
	for _, p := range t.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid food pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

// IsFood 依序套用長度、拒絕詞、支配規則、允許詞與樣式
func (c *Classifier) IsFood(name string) bool {
	name = common.NormalizeName(name)
	n := utf8.RuneCountInString(name)
	if n < minNameLength {
		return false
	}
	if _, denied := c.deny[name]; denied {
		return false
	}

	// 拒絕詞佔據名稱大部分長度時拒絕
	for _, d := range c.denyTerms {
		if strings.Contains(name, d) && float64(utf8.RuneCountInString(d)) > c.dominanceRatio*float64(n) {
			return false
		}
	}

	for _, a := range c.allow {
		if strings.Contains(name, a) || strings.Contains(a, name) {
			return true
		}
	}
	for _, re := range c.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
