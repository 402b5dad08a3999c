// Package action turns a user instruction and a snapshot of the screen into
// one UI automation step, either by asking a language model or by keyword
// rules.
package action

import (
	"errors"
	"fmt"
	"slices"
)

// Kind names one automation step.
type Kind string

const (
	Click   Kind = "click"
	Type    Kind = "type"
	Scroll  Kind = "scroll"
	OpenApp Kind = "open_app"
	GoBack  Kind = "go_back"
	Nothing Kind = "nothing"
)

// Kinds lists every action a planner may return.
var Kinds = []Kind{Click, Type, Scroll, OpenApp, GoBack, Nothing}

var (
	ErrNoJSON     = errors.New("no JSON object in response")
	ErrUngrounded = errors.New("target not present on screen")
)

// UIStructure is the accessibility snapshot of the foreground app.
type UIStructure struct {
	App        string   `json:"app"`
	Clickable  []string `json:"clickable"`
	TextFields []string `json:"text_fields"`
	Focused    string   `json:"focused"`
}

// Action is one step for the automation layer to execute.
type Action struct {
	Action Kind   `json:"action"`
	Target string `json:"target"`
	Text   string `json:"text"`
}

// None is the step returned whenever a planner is unsure.
func None() Action { return Action{Action: Nothing} }

func (a Action) String() string {
	switch a.Action {
	case Type:
		return fmt.Sprintf("%s %q into %q", a.Action, a.Text, a.Target)
	case Nothing, GoBack:
		return string(a.Action)
	default:
		return fmt.Sprintf("%s %q", a.Action, a.Target)
	}
}

// Grounded reports whether the target of a click or type refers to an
// element that is actually on screen.
func (a Action) Grounded(ui UIStructure) error {
	switch a.Action {
	case Click:
		if !slices.Contains(ui.Clickable, a.Target) {
			return fmt.Errorf("%w: click %q", ErrUngrounded, a.Target)
		}
	case Type:
		if !slices.Contains(ui.TextFields, a.Target) && (a.Target == "" || a.Target != ui.Focused) {
			return fmt.Errorf("%w: type into %q", ErrUngrounded, a.Target)
		}
	}
	return nil
}
