package action

import (
	"context"
	"errors"
	"strings"
	"testing"
)

var screen = UIStructure{
	App:        "com.whatsapp",
	Clickable:  []string{"Chats", "Send", "New message"},
	TextFields: []string{"Message"},
	Focused:    "Message",
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	p, err := BuildPrompt("send hi", UIStructure{App: "launcher"})
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	if !strings.HasPrefix(p, "You are MiniJarvis") || !strings.HasSuffix(p, "Return JSON only:") {
		t.Fatalf("prompt framing wrong:\n%s", p)
	}
	if !strings.Contains(p, "User instruction: send hi\n") {
		t.Fatalf("instruction missing:\n%s", p)
	}
	want := `{"app":"launcher","clickable":[],"text_fields":[],"focused":""}`
	if !strings.Contains(p, "UI structure:\n"+want+"\n") {
		t.Fatalf("ui json missing:\n%s", p)
	}
}

func TestParseAction(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		want    Action
		wantErr bool
	}{
		{"plain", `{"action":"click","target":"Send","text":""}`, Action{Action: Click, Target: "Send"}, false},
		{"wrapped", "Sure!\n```json\n{\"action\": \"type\", \"target\": \"Message\", \"text\": \"hi there\"}\n```", Action{Action: Type, Target: "Message", Text: "hi there"}, false},
		{"case and space", `{"action":" Go_Back ","target":"","text":"x"}`, Action{Action: GoBack}, false},
		{"unknown", `{"action":"dance","target":"floor"}`, None(), true},
		{"no json", "I cannot help with that", None(), true},
		{"reversed braces", "} oops {", None(), true},
		{"broken", `{"action": click}`, None(), true},
		{"think first", "<think>maybe {\"action\":\"scroll\"}</think>{\"action\":\"click\",\"target\":\"OK\"}", Action{Action: Click, Target: "OK"}, false},
		{"think upper", "<THINK>hmm</THINK> {\"action\":\"go_back\"}", Action{Action: GoBack}, false},
		{"unclosed think", "{\"action\":\"click\",\"target\":\"A\"}<think>{\"action\":\"scroll\"}", Action{Action: Click, Target: "A"}, false},
		{"only thinking", "<think>{\"action\":\"click\",\"target\":\"A\"}", None(), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseAction(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
	if _, err := ParseAction("nothing here"); !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
}

func TestGrounded(t *testing.T) {
	t.Parallel()

	if err := (Action{Action: Click, Target: "Send"}).Grounded(screen); err != nil {
		t.Fatalf("click Send: %v", err)
	}
	if err := (Action{Action: Click, Target: "Call"}).Grounded(screen); !errors.Is(err, ErrUngrounded) {
		t.Fatalf("click Call: %v", err)
	}
	if err := (Action{Action: Type, Target: "Message", Text: "x"}).Grounded(screen); err != nil {
		t.Fatalf("type Message: %v", err)
	}
	if err := (Action{Action: Type, Target: "Search", Text: "x"}).Grounded(screen); !errors.Is(err, ErrUngrounded) {
		t.Fatalf("type Search: %v", err)
	}
	if err := (Action{Action: OpenApp, Target: "camera"}).Grounded(screen); err != nil {
		t.Fatalf("open_app: %v", err)
	}
}

type fakeGen struct {
	resets int
	prompt string
	reply  string
	err    error
}

func (f *fakeGen) Reset() error { f.resets++; return nil }

func (f *fakeGen) GenerateText(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func TestPlanner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gen := &fakeGen{reply: `{"action":"click","target":"Send","text":""}`}
	a, raw, err := Planner{Grounded: true}.Plan(ctx, gen, "press send", screen)
	if err != nil || a != (Action{Action: Click, Target: "Send"}) {
		t.Fatalf("Plan = %+v, %v", a, err)
	}
	if raw != gen.reply || gen.resets != 1 || !strings.Contains(gen.prompt, "press send") {
		t.Fatalf("raw %q, resets %d", raw, gen.resets)
	}

	gen = &fakeGen{reply: `{"action":"click","target":"Call"}`}
	if a, _, err := (Planner{Grounded: true}).Plan(ctx, gen, "call mum", screen); !errors.Is(err, ErrUngrounded) || a != None() {
		t.Fatalf("ungrounded plan = %+v, %v", a, err)
	}
	if a, _, err := (Planner{}).Plan(ctx, gen, "call mum", screen); err != nil || a.Target != "Call" {
		t.Fatalf("ungrounded plan without check = %+v, %v", a, err)
	}

	boom := errors.New("boom")
	gen = &fakeGen{err: boom}
	if a, _, err := (Planner{}).Plan(ctx, gen, "x", screen); !errors.Is(err, boom) || a != None() {
		t.Fatalf("failed generation = %+v, %v", a, err)
	}
	gen = &fakeGen{reply: "no idea"}
	if a, _, err := (Planner{}).Plan(ctx, gen, "x", screen); err == nil || a != None() {
		t.Fatalf("garbage reply = %+v, %v", a, err)
	}
}

func TestRulePlanner(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		ui   UIStructure
		want Action
	}{
		{"Type Hello there", screen, Action{Action: Type, Target: "Message", Text: "Hello there"}},
		{"send to the group lunch at 1", screen, Action{Action: Type, Target: "Message", Text: "group lunch at 1"}},
		{"write it", UIStructure{Focused: "Search"}, Action{Action: Type, Target: "Search", Text: "it"}},
		{"type", screen, None()},
		{"scroll down", screen, Action{Action: Scroll, Target: "forward"}},
		{"scroll up please", screen, Action{Action: Scroll, Target: "backward"}},
		{"scroll", screen, Action{Action: Scroll, Target: "forward"}},
		{"go back", screen, Action{Action: GoBack}},
		{"open camera", screen, Action{Action: OpenApp, Target: "camera"}},
		{"please launch maps now", screen, Action{Action: OpenApp, Target: "maps"}},
		{"tap new message", screen, Action{Action: Click, Target: "New message"}},
		{"click chats", screen, Action{Action: Click, Target: "Chats"}},
		{"press the big red button", screen, Action{Action: Click, Target: "Chats"}},
		{"click", UIStructure{}, None()},
		{"hello", screen, None()},
	}
	for _, tc := range cases {
		if got := (RulePlanner{}).Plan(tc.in, tc.ui); got != tc.want {
			t.Fatalf("%q: got %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestActionString(t *testing.T) {
	t.Parallel()

	if got := (Action{Action: Type, Target: "Message", Text: "hi"}).String(); got != `type "hi" into "Message"` {
		t.Fatalf("got %q", got)
	}
	if got := None().String(); got != "nothing" {
		t.Fatalf("got %q", got)
	}
}

func TestStripThinking(t *testing.T) {
	t.Parallel()

	answer, thinking := stripThinking("a<think>one</think>b<Think>two</think>c")
	if answer != "abc" || thinking != "onetwo" {
		t.Fatalf("got (%q, %q)", answer, thinking)
	}
	answer, thinking = stripThinking("plain")
	if answer != "plain" || thinking != "" {
		t.Fatalf("got (%q, %q)", answer, thinking)
	}
}
