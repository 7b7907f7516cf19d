package recognition

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"ingredient-recognizer/internal/pkg/common"
)

//go:embed data/tables.json
var defaultTables []byte

// Tables 食材判斷用的詞表
type Tables struct {
	Deny       []string       `json:"deny"`
	Allow      []string       `json:"allow"`
	Patterns   []string       `json:"patterns"`
	Categories []CategoryRule `json:"categories"`
}

// CategoryRule 分類與其關鍵字，依順序比對
type CategoryRule struct {
	Category common.Category `json:"category"`
	Keywords []string        `json:"keywords"`
}

// DefaultTables 內建詞表
func DefaultTables() (*Tables, error) {
	return ParseTables(defaultTables)
}

// LoadTables 從檔案載入詞表，路徑為空時使用內建詞表
func LoadTables(path string) (*Tables, error) {
	if path == "" {
		return DefaultTables()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tables: %w", err)
	}
	return ParseTables(data)
}

// ParseTables 解析詞表並正規化所有詞條
func ParseTables(data []byte) (*Tables, error) {
	var t Tables
	if err := common.DecodeJSONStrict(bytes.NewReader(data), &t); err != nil {
		return nil, fmt.Errorf("failed to parse tables: %w", err)
	}

	t.Deny = normalizeAll(t.Deny)
	t.Allow = normalizeAll(t.Allow)
	for i, rule := range t.Categories {
		c, ok := common.ParseCategory(string(rule.Category))
		if !ok {
			return nil, fmt.Errorf("unknown category %q in tables", rule.Category)
		}
		t.Categories[i].Category = c
		t.Categories[i].Keywords = normalizeAll(rule.Keywords)
	}
	return &t, nil
}

func normalizeAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if n := common.NormalizeName(w); n != "" {
			out = append(out, n)
		}
	}
	return out
}
