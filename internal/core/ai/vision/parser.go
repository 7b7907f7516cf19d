package vision

import (
	"encoding/json"
	"fmt"
	"strings"

	"ingredient-recognizer/internal/pkg/common"
)

// ParseCandidates 從模型回應中取出第一個含有效候選的 JSON 陣列
// 前面的陣列若無法解析或沒有任何有效元素，改試下一個。
func ParseCandidates(text string, limit int) ([]common.RawCandidate, error) {
	arrays := common.JSONArrays(common.StripCodeFences(text))
	if len(arrays) == 0 {
		return nil, common.Wrap(common.ErrParseError, fmt.Errorf("no JSON array in response"))
	}

	var firstErr error
	parsed := false
	for _, raw := range arrays {
		var elems []json.RawMessage
		if err := json.Unmarshal([]byte(raw), &elems); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		parsed = true
		if out := decodeElements(elems, limit); len(out) > 0 {
			return out, nil
		}
	}
	if !parsed {
		return nil, common.Wrap(common.ErrParseError, firstErr)
	}
	return []common.RawCandidate{}, nil
}

func decodeElements(elems []json.RawMessage, limit int) []common.RawCandidate {
	out := make([]common.RawCandidate, 0, len(elems))
	for _, elem := range elems {
		c, ok := decodeElement(elem)
		if !ok {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// decodeElement 元素可以是物件或單純字串
func decodeElement(elem json.RawMessage) (common.RawCandidate, bool) {
	var name string
	if err := json.Unmarshal(elem, &name); err == nil {
		name = strings.TrimSpace(name)
		return common.RawCandidate{Name: name}, name != ""
	}

	var c common.RawCandidate
	if err := json.Unmarshal(elem, &c); err != nil {
		return common.RawCandidate{}, false
	}
	c.Name = strings.TrimSpace(c.Name)
	return c, c.Name != ""
}
