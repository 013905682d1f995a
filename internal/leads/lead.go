package leads

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/chatctl/internal/chat"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Lead is one captured prospect.
type Lead struct {
	ID                  string                    `json:"leadId"`
	Name                string                    `json:"name"`
	Email               string                    `json:"email"`
	Phone               string                    `json:"phone"`
	Company             string                    `json:"company,omitempty"`
	QuestionAnswerPairs []chat.QuestionAnswerPair `json:"questionAnswerPairs,omitempty"`
	CreatedAt           time.Time                 `json:"createdAt"`
}

// Submission is the POST /api/leads request body.
type Submission struct {
	Name                string                    `json:"name"`
	Email               string                    `json:"email"`
	Phone               string                    `json:"phone"`
	Company             string                    `json:"company"`
	QuestionAnswerPairs []chat.QuestionAnswerPair `json:"questionAnswerPairs"`
}

// FieldErrors validates the submission and returns per-field messages.
// Rejection happens before anything touches the store.
func (s Submission) FieldErrors() map[string]string {
	errs := make(map[string]string)
	if strings.TrimSpace(s.Name) == "" {
		errs["name"] = "name is required"
	}
	email := strings.TrimSpace(s.Email)
	switch {
	case email == "":
		errs["email"] = "email is required"
	case !emailPattern.MatchString(email):
		errs["email"] = "email is invalid"
	}
	if strings.TrimSpace(s.Phone) == "" {
		errs["phone"] = "phone is required"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Lead mints the stored record for a valid submission.
func (s Submission) Lead() Lead {
	return Lead{
		ID:                  uuid.NewString(),
		Name:                strings.TrimSpace(s.Name),
		Email:               strings.ToLower(strings.TrimSpace(s.Email)),
		Phone:               strings.TrimSpace(s.Phone),
		Company:             strings.TrimSpace(s.Company),
		QuestionAnswerPairs: s.QuestionAnswerPairs,
		CreatedAt:           time.Now().UTC(),
	}
}
