package vision

import (
	"fmt"

	"golang.org/x/text/language"
)

const (
	minCandidates = 1
	maxCandidates = 25
)

var supportedLanguages = []language.Tag{
	language.English, // 第一個為預設
	language.Italian,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

var promptTemplates = map[language.Tag]string{
	language.English: `You are an ingredient recognition assistant. Look at the photo and list the food ingredients you can see.
Rules:
- Only edible ingredients. Ignore non-food objects, containers, packaging, utensils, furniture and people.
- Do not use generic descriptors such as "food", "meal", "dish" or "ingredient".
- Use the singular, common English name in lowercase.
- Return at most %d items.
- Respond with a compact JSON array only, no prose, in this exact shape:
[{"name":"tomato","confidence":0.92}]
confidence is a number between 0 and 1.`,

	language.Italian: `Sei un assistente per il riconoscimento degli ingredienti. Osserva la foto ed elenca gli ingredienti alimentari visibili.
Regole:
- Solo ingredienti commestibili. Ignora oggetti non alimentari, contenitori, confezioni, utensili, mobili e persone.
- Non usare descrittori generici come "cibo", "pasto", "piatto" o "ingrediente".
- Usa il nome comune italiano al singolare, in minuscolo.
- Restituisci al massimo %d elementi.
- Rispondi solo con un array JSON compatto, senza testo aggiuntivo, esattamente in questa forma:
[{"name":"pomodoro","confidence":0.92}]
confidence è un numero tra 0 e 1.`,
}

// matchLanguage 選擇最接近的支援語言，無法辨識時使用英文
func matchLanguage(code string) language.Tag {
	if code == "" {
		return language.English
	}
	_, idx := language.MatchStrings(languageMatcher, code)
	return supportedLanguages[idx]
}

// clampCandidates 將數量限制在 1 到 25 之間
func clampCandidates(n int) int {
	if n < minCandidates {
		return maxCandidates
	}
	if n > maxCandidates {
		return maxCandidates
	}
	return n
}

// BuildPrompt 依語言與數量上限產生提示詞
func BuildPrompt(languageCode string, limit int) string {
	tag := matchLanguage(languageCode)
	return fmt.Sprintf(promptTemplates[tag], clampCandidates(limit))
}
