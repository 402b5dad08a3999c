package action

import (
	"fmt"
	"slices"
	"strings"

	"github.com/goccy/go-json"
)

const systemPrompt = `You are MiniJarvis, an Android automation engine.

You do not chat.
You do not explain.
You only choose ONE next action.

You receive:
- User instruction
- Structured UI JSON

Return strictly valid JSON:
{
  "action": "",
  "target": "",
  "text": ""
}

Allowed actions:
- click
- type
- scroll
- open_app
- go_back
- nothing

Rules:
- target must match exactly from clickable or text_fields
- text only when action = type
- never hallucinate elements
- if unsure, return action = "nothing"
- output JSON only`

// BuildPrompt renders the planning prompt for one instruction.
func BuildPrompt(instruction string, ui UIStructure) (string, error) {
	if ui.Clickable == nil {
		ui.Clickable = []string{}
	}
	if ui.TextFields == nil {
		ui.TextFields = []string{}
	}
	uiJSON, err := json.Marshal(ui)
	if err != nil {
		return "", fmt.Errorf("encode ui: %w", err)
	}
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nUser instruction: ")
	b.WriteString(instruction)
	b.WriteString("\n\nUI structure:\n")
	b.Write(uiJSON)
	b.WriteString("\n\nReturn JSON only:")
	return b.String(), nil
}

// ParseAction decodes the span from the first '{' to the last '}' of a
// model response, ignoring any <think> blocks. Unknown actions become
// Nothing.
func ParseAction(response string) (Action, error) {
	response, _ = stripThinking(response)
	start := strings.IndexByte(response, '{')
	end := strings.LastIndexByte(response, '}')
	if start < 0 || end <= start {
		return None(), ErrNoJSON
	}
	var raw struct {
		Action string `json:"action"`
		Target string `json:"target"`
		Text   string `json:"text"`
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), &raw); err != nil {
		return None(), fmt.Errorf("decode action: %w", err)
	}
	a := Action{
		Action: Kind(strings.ToLower(strings.TrimSpace(raw.Action))),
		Target: strings.TrimSpace(raw.Target),
		Text:   raw.Text,
	}
	if !slices.Contains(Kinds, a.Action) {
		return None(), fmt.Errorf("unknown action %q", raw.Action)
	}
	if a.Action != Type {
		a.Text = ""
	}
	return a, nil
}

