package flow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/chatctl/internal/chat"
)

var (
	ErrFlowDone      = errors.New("flow: flow finished")
	ErrUnknownOption = errors.New("flow: unknown option")
)

// Walker advances through one script, recording each answered prompt. It is
// single-consumer; the walk is append-only and never revisits a step.
type Walker struct {
	script         Script
	conversationID string
	current        Step
	done           bool
	log            []chat.QuestionAnswerPair
}

func NewWalker(script Script, conversationID string) (*Walker, error) {
	if err := script.Validate(); err != nil {
		return nil, err
	}
	start, _ := script.step(script.Start)
	return &Walker{
		script:         script,
		conversationID: conversationID,
		current:        start,
	}, nil
}

// Current returns the step awaiting an answer.
func (w *Walker) Current() (Step, error) {
	if w.done {
		return Step{}, ErrFlowDone
	}
	return w.current, nil
}

func (w *Walker) Done() bool {
	return w.done
}

// Answer records the reply to the current step and advances. Fixed-choice
// steps require the answer to match an option label; free-text steps accept
// any non-blank text.
func (w *Walker) Answer(text string) error {
	if w.done {
		return ErrFlowDone
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: blank answer for step %q", ErrUnknownOption, w.current.ID)
	}

	next := w.current.Next
	if len(w.current.Options) > 0 {
		opt, ok := w.option(text)
		if !ok {
			return fmt.Errorf("%w: %q on step %q", ErrUnknownOption, text, w.current.ID)
		}
		next = opt.Next
	}

	w.log = append(w.log, chat.QuestionAnswerPair{
		ID:             uuid.NewString(),
		ConversationID: w.conversationID,
		Question:       w.current.Question,
		Answer:         text,
		StepID:         w.current.ID,
		CreatedAt:      time.Now().UTC(),
	})

	if next == "" {
		w.done = true
		w.current = Step{}
		return nil
	}
	w.current, _ = w.script.step(next)
	return nil
}

func (w *Walker) option(label string) (Option, bool) {
	for _, opt := range w.current.Options {
		if strings.EqualFold(opt.Label, label) {
			return opt, true
		}
	}
	return Option{}, false
}

// Log returns a copy of the answered pairs in order.
func (w *Walker) Log() []chat.QuestionAnswerPair {
	out := make([]chat.QuestionAnswerPair, len(w.log))
	copy(out, w.log)
	return out
}
