package catalog

import (
	"regexp"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity 1 - 編輯距離 / 較長字串長度，以 rune 計算
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

var nonLatin = regexp.MustCompile(`[\p{Han}\p{Hiragana}\p{Katakana}\p{Hangul}\p{Arabic}\p{Cyrillic}]`)

// IsLatin 目錄只收錄拉丁字母名稱
func IsLatin(s string) bool {
	return !nonLatin.MatchString(s)
}
