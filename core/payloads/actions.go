package payloads

import (
	"regexp"
	"strings"
)

var markerPattern = regexp.MustCompile(`\[([^\[\]]+)\]`)

// ExtractActions strips bracketed expression markers such as "[joy]" from
// text and returns them as actions. Only markers naming one of keywords are
// treated as expressions, everything else is left in the text.
func ExtractActions(text string, keywords []string) (string, Actions) {
	if len(keywords) == 0 {
		return text, Actions{}
	}

	known := make(map[string]struct{}, len(keywords))
	for _, keyword := range keywords {
		known[strings.ToLower(keyword)] = struct{}{}
	}

	var actions Actions
	cleaned := markerPattern.ReplaceAllStringFunc(text, func(marker string) string {
		name := strings.ToLower(strings.TrimSpace(marker[1 : len(marker)-1]))
		if _, ok := known[name]; !ok {
			return marker
		}
		actions.Expressions = append(actions.Expressions, name)
		return ""
	})

	return strings.Join(strings.Fields(cleaned), " "), actions
}
