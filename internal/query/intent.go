package query

import "strings"

// Intent classifies a user query before retrieval.
type Intent string

const (
	IntentDocumentQuery Intent = "document_query"
	IntentChitchat      Intent = "chitchat"
)

// chitchatPhrases is the closed set of greetings handled without
// retrieval.
var chitchatPhrases = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "thanks": {}, "thank you": {},
	"bye": {}, "goodbye": {}, "how are you": {}, "what's up": {},
	"sup": {}, "yo": {},
}

// documentKeywords force document_query intent regardless of the
// chitchat heuristics.
var documentKeywords = []string{
	"document", "file", "pdf", "show", "find", "search", "what", "when",
	"where", "who", "how", "why", "tell me", "explain", "describe",
	"list", "summary", "summarize", "based on", "according to", "in my",
}

// classifyIntent applies the intent gate: exact greetings and very
// short non-questions are chitchat unless a document keyword appears.
func classifyIntent(question string) Intent {
	normalized := strings.ToLower(strings.TrimSpace(question))
	trimmed := strings.Trim(normalized, ".!,")

	if _, ok := chitchatPhrases[trimmed]; ok {
		return IntentChitchat
	}

	for _, kw := range documentKeywords {
		if strings.Contains(normalized, kw) {
			return IntentDocumentQuery
		}
	}
	if len(strings.Fields(normalized)) < 3 && !strings.Contains(normalized, "?") {
		return IntentChitchat
	}
	return IntentDocumentQuery
}
