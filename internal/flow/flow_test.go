package flow

import (
	"errors"
	"testing"

	"github.com/danmuck/chatctl/internal/testutil/testlog"
)

const sampleScript = `
start = "welcome"

[[step]]
id = "welcome"
question = "What brings you here today?"

  [[step.option]]
  label = "Pricing"
  next = "budget"

  [[step.option]]
  label = "Support"
  next = "details"

[[step]]
id = "budget"
question = "What is your monthly budget?"
next = "details"

[[step]]
id = "details"
question = "Anything else we should know?"
`

func parseSample(t *testing.T) Script {
	t.Helper()
	script, err := Parse([]byte(sampleScript))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return script
}

func TestParseAndValidate(t *testing.T) {
	testlog.Start(t)
	script := parseSample(t)
	if script.Start != "welcome" || len(script.Steps) != 3 {
		t.Fatalf("unexpected script: %+v", script)
	}
}

func TestValidateCatchesBrokenReferences(t *testing.T) {
	testlog.Start(t)
	cases := map[string]Script{
		"missing start": {
			Steps: []Step{{ID: "a", Question: "q"}},
		},
		"undefined start": {
			Start: "nope",
			Steps: []Step{{ID: "a", Question: "q"}},
		},
		"duplicate id": {
			Start: "a",
			Steps: []Step{{ID: "a", Question: "q"}, {ID: "a", Question: "q2"}},
		},
		"dangling next": {
			Start: "a",
			Steps: []Step{{ID: "a", Question: "q", Next: "ghost"}},
		},
		"dangling option next": {
			Start: "a",
			Steps: []Step{{ID: "a", Question: "q", Options: []Option{{Label: "x", Next: "ghost"}}}},
		},
		"blank question": {
			Start: "a",
			Steps: []Step{{ID: "a"}},
		},
	}
	for name, script := range cases {
		if err := script.Validate(); !errors.Is(err, ErrInvalidScript) {
			t.Errorf("%s: expected ErrInvalidScript, got %v", name, err)
		}
	}
}

func TestWalkProducesOrderedLog(t *testing.T) {
	testlog.Start(t)
	w, err := NewWalker(parseSample(t), "conv.1")
	if err != nil {
		t.Fatalf("new walker: %v", err)
	}

	step, err := w.Current()
	if err != nil || step.ID != "welcome" {
		t.Fatalf("current: %+v err=%v", step, err)
	}
	if err := w.Answer("Pricing"); err != nil {
		t.Fatalf("answer welcome: %v", err)
	}

	step, _ = w.Current()
	if step.ID != "budget" {
		t.Fatalf("option routing failed: %+v", step)
	}
	if err := w.Answer("about 10k"); err != nil {
		t.Fatalf("answer budget: %v", err)
	}
	if err := w.Answer("nothing else"); err != nil {
		t.Fatalf("answer details: %v", err)
	}

	if !w.Done() {
		t.Fatalf("walker not done")
	}
	if err := w.Answer("extra"); !errors.Is(err, ErrFlowDone) {
		t.Fatalf("expected ErrFlowDone, got %v", err)
	}

	log := w.Log()
	if len(log) != 3 {
		t.Fatalf("unexpected log length: %d", len(log))
	}
	wantSteps := []string{"welcome", "budget", "details"}
	for i, pair := range log {
		if pair.StepID != wantSteps[i] {
			t.Fatalf("log out of order: %+v", log)
		}
		if pair.ConversationID != "conv.1" || pair.ID == "" || pair.Question == "" {
			t.Fatalf("incomplete pair: %+v", pair)
		}
	}
	if log[0].Answer != "Pricing" || log[1].Answer != "about 10k" {
		t.Fatalf("answers not recorded: %+v", log)
	}
}

func TestAnswerRejectsUnknownOption(t *testing.T) {
	testlog.Start(t)
	w, err := NewWalker(parseSample(t), "conv.1")
	if err != nil {
		t.Fatalf("new walker: %v", err)
	}
	if err := w.Answer("Refunds"); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("expected ErrUnknownOption, got %v", err)
	}
	if err := w.Answer(""); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("expected rejection of blank answer, got %v", err)
	}
	// Option matching is case-insensitive.
	if err := w.Answer("pricing"); err != nil {
		t.Fatalf("case-insensitive match failed: %v", err)
	}
}
