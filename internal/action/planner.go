package action

import (
	"context"
	"regexp"
	"strings"

	"github.com/samcharles93/minijarvis/internal/logger"
)

// TextGenerator is the part of a model session the planner needs.
type TextGenerator interface {
	Reset() error
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Planner asks a model for the next action. Every failure yields Nothing;
// the error says why.
type Planner struct {
	// Grounded rejects click and type targets missing from the screen.
	Grounded bool
}

// Plan resets gen so each instruction is planned from a clean context,
// then generates and parses one action. The raw model response is
// returned for diagnostics.
func (p Planner) Plan(ctx context.Context, gen TextGenerator, instruction string, ui UIStructure) (Action, string, error) {
	log := logger.FromContext(ctx)
	prompt, err := BuildPrompt(instruction, ui)
	if err != nil {
		return None(), "", err
	}
	if err := gen.Reset(); err != nil {
		return None(), "", err
	}
	raw, err := gen.GenerateText(ctx, prompt)
	if err != nil {
		return None(), "", err
	}
	if _, thinking := stripThinking(raw); thinking != "" {
		log.Debug("model reasoning", "thinking", thinking)
	}
	a, err := ParseAction(raw)
	if err != nil {
		log.Warn("unusable model response", "err", err, "response", raw)
		return None(), raw, err
	}
	if p.Grounded {
		if err := a.Grounded(ui); err != nil {
			log.Warn("model chose an element not on screen", "action", a.String())
			return None(), raw, err
		}
	}
	log.Info("planned action", "action", a.String())
	return a, raw, nil
}

var commonWords = map[string]bool{
	"the": true, "a": true, "an": true, "to": true, "in": true, "on": true, "at": true,
	"for": true, "of": true, "and": true, "or": true, "but": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "did": true, "will": true,
	"would": true, "could": true, "should": true, "may": true, "might": true, "can": true,
	"please": true, "try": true, "click": true, "tap": true, "press": true, "open": true,
	"close": true, "go": true,
}

var typePrefix = regexp.MustCompile(`^(?:to the|to|in)\s+`)

// RulePlanner maps instructions to actions with keyword rules. It needs no
// model and is used when none is loaded.
type RulePlanner struct{}

func (RulePlanner) Plan(instruction string, ui UIStructure) Action {
	lower := strings.ToLower(instruction)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}
	switch {
	case has("type", "send", "write"):
		return planType(instruction, ui)
	case has("scroll"):
		if !has("down", "forward") && has("up", "backward") {
			return Action{Action: Scroll, Target: "backward"}
		}
		return Action{Action: Scroll, Target: "forward"}
	case has("back"):
		return Action{Action: GoBack}
	case strings.HasPrefix(lower, "open ") || has("launch"):
		return Action{Action: OpenApp, Target: wordAfter(strings.Fields(lower), "open", "launch")}
	case has("click", "tap", "press"):
		return planClick(lower, ui)
	}
	return None()
}

func wordAfter(words []string, triggers ...string) string {
	for i, w := range words {
		for _, t := range triggers {
			if w == t && i+1 < len(words) {
				return words[i+1]
			}
		}
	}
	return ""
}

func planClick(lower string, ui UIStructure) Action {
	words := strings.Fields(lower)
	var want string
	for i, w := range words {
		if w == "click" || w == "tap" || w == "press" {
			want = strings.Join(words[i+1:min(i+3, len(words))], " ")
			break
		}
	}
	if want == "" {
		for _, w := range words {
			if len(w) > 2 && !commonWords[w] {
				want = w
				break
			}
		}
	}
	if want != "" {
		for _, c := range ui.Clickable {
			lc := strings.ToLower(c)
			if strings.Contains(lc, want) || strings.Contains(want, lc) {
				return Action{Action: Click, Target: c}
			}
		}
	}
	if len(ui.Clickable) > 0 {
		return Action{Action: Click, Target: ui.Clickable[0]}
	}
	return None()
}

func planType(instruction string, ui UIStructure) Action {
	lower := strings.ToLower(instruction)
	if len(lower) != len(instruction) {
		// Case folding changed byte offsets; work on the folded text.
		instruction = lower
	}
	var text string
	for _, trigger := range []string{"type", "send", "write", "message"} {
		idx := strings.Index(lower, trigger)
		if idx < 0 {
			continue
		}
		after := strings.TrimSpace(instruction[idx+len(trigger):])
		if loc := typePrefix.FindStringIndex(strings.TrimSpace(lower[idx+len(trigger):])); loc != nil {
			after = after[loc[1]:]
		}
		if after != "" {
			text = after
			break
		}
	}
	target := ui.Focused
	if len(ui.TextFields) > 0 {
		target = ui.TextFields[0]
	}
	if target == "" || text == "" {
		return None()
	}
	return Action{Action: Type, Target: target, Text: text}
}
