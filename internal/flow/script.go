package flow

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidScript = errors.New("flow: invalid script")

// Option is one fixed choice on a step. An empty Next ends the flow.
type Option struct {
	Label string `toml:"label"`
	Next  string `toml:"next"`
}

// Step is one prompt. A step with options is fixed-choice; a step without
// options accepts free text and advances to Next (empty Next ends the flow).
type Step struct {
	ID       string   `toml:"id"`
	Question string   `toml:"question"`
	Next     string   `toml:"next"`
	Options  []Option `toml:"option"`
}

// Script is one decision tree.
type Script struct {
	Start string `toml:"start"`
	Steps []Step `toml:"step"`
}

func Parse(raw []byte) (Script, error) {
	var script Script
	if err := toml.Unmarshal(raw, &script); err != nil {
		return Script{}, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if err := script.Validate(); err != nil {
		return Script{}, err
	}
	return script, nil
}

func Load(path string) (Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("flow: read script: %w", err)
	}
	return Parse(raw)
}

// Validate checks referential integrity: a declared start step, unique step
// ids, and every next reference resolving to a step.
func (s Script) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidScript)
	}
	if strings.TrimSpace(s.Start) == "" {
		return fmt.Errorf("%w: missing start", ErrInvalidScript)
	}

	ids := make(map[string]struct{}, len(s.Steps))
	for _, step := range s.Steps {
		if strings.TrimSpace(step.ID) == "" {
			return fmt.Errorf("%w: step without id", ErrInvalidScript)
		}
		if _, ok := ids[step.ID]; ok {
			return fmt.Errorf("%w: duplicate step id %q", ErrInvalidScript, step.ID)
		}
		ids[step.ID] = struct{}{}
		if strings.TrimSpace(step.Question) == "" {
			return fmt.Errorf("%w: step %q without question", ErrInvalidScript, step.ID)
		}
	}

	if _, ok := ids[s.Start]; !ok {
		return fmt.Errorf("%w: start step %q not defined", ErrInvalidScript, s.Start)
	}
	for _, step := range s.Steps {
		if step.Next != "" {
			if _, ok := ids[step.Next]; !ok {
				return fmt.Errorf("%w: step %q next %q not defined", ErrInvalidScript, step.ID, step.Next)
			}
		}
		for _, opt := range step.Options {
			if strings.TrimSpace(opt.Label) == "" {
				return fmt.Errorf("%w: step %q option without label", ErrInvalidScript, step.ID)
			}
			if opt.Next != "" {
				if _, ok := ids[opt.Next]; !ok {
					return fmt.Errorf("%w: step %q option %q next %q not defined", ErrInvalidScript, step.ID, opt.Label, opt.Next)
				}
			}
		}
	}
	return nil
}

func (s Script) step(id string) (Step, bool) {
	for _, step := range s.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return Step{}, false
}
