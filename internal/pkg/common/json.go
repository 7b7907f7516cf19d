package common

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// DecodeJSONStrict 使用統一設定解析 JSON，禁止未知欄位與多餘資料
func DecodeJSONStrict(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}

	// 確保沒有多餘資料
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("unexpected extra JSON data")
	}
	return nil
}

// StripCodeFences 移除模型回應外層的 markdown 程式碼區塊
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// JSONArrays 依出現順序取出文字中所有頂層的完整 JSON 陣列
// 會略過字串常值中的括號；巢狀陣列包含在外層結果中。
func JSONArrays(s string) []string {
	var out []string
	for i := 0; i < len(s); {
		start := strings.IndexByte(s[i:], '[')
		if start == -1 {
			break
		}
		start += i
		if end := matchBracket(s, start); end != -1 {
			out = append(out, s[start:end+1])
			i = end + 1
			continue
		}
		i = start + 1
	}
	return out
}

// matchBracket 回傳與 s[start] 的 '[' 配對的 ']' 位置
func matchBracket(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				if ch != ']' {
					return -1
				}
				return i
			}
			if depth < 0 {
				return -1
			}
		}
	}
	return -1
}
