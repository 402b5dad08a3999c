package action

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// stripThinking removes <think>...</think> blocks that reasoning models put
// before their answer. An unclosed block runs to the end of the text. The
// removed text is returned separately for logging.
func stripThinking(raw string) (answer, thinking string) {
	lower := strings.ToLower(raw)
	var a, th strings.Builder
	for cursor := 0; cursor < len(raw); {
		open := strings.Index(lower[cursor:], thinkOpen)
		if open < 0 {
			a.WriteString(raw[cursor:])
			break
		}
		open += cursor
		a.WriteString(raw[cursor:open])

		body := open + len(thinkOpen)
		end := strings.Index(lower[body:], thinkClose)
		if end < 0 {
			th.WriteString(raw[body:])
			break
		}
		th.WriteString(raw[body : body+end])
		cursor = body + end + len(thinkClose)
	}
	return a.String(), th.String()
}
