package validator

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxMessageLength = 4000
	MaxParticipants  = 50
	MaxSearchLength  = 100
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

// ValidateMessage checks message text after trimming surrounding whitespace.
func ValidateMessage(text string) ValidationErrors {
	errs := make(ValidationErrors)

	text = strings.TrimSpace(text)
	if text == "" {
		errs.Add("text", "Message text is required")
	} else if utf8.RuneCountInString(text) > MaxMessageLength {
		errs.Add("text", fmt.Sprintf("Message text must be at most %d characters", MaxMessageLength))
	}

	return errs
}

// ValidateParticipants checks that every identifier is a well-formed id and
// returns the parsed ids in request order.
func ValidateParticipants(ids []string) ([]uuid.UUID, ValidationErrors) {
	errs := make(ValidationErrors)

	if len(ids) == 0 {
		errs.Add("participants", "Participants are required")
		return nil, errs
	}
	if len(ids) > MaxParticipants {
		errs.Add("participants", fmt.Sprintf("At most %d participants are allowed", MaxParticipants))
		return nil, errs
	}

	parsed := make([]uuid.UUID, 0, len(ids))
	for i, raw := range ids {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil || id == uuid.Nil {
			errs.Add(fmt.Sprintf("participants[%d]", i), "Invalid participant ID")
			continue
		}
		parsed = append(parsed, id)
	}

	if errs.HasErrors() {
		return nil, errs
	}
	return parsed, errs
}

func ValidateSearch(term string) ValidationErrors {
	errs := make(ValidationErrors)

	if utf8.RuneCountInString(term) > MaxSearchLength {
		errs.Add("search", "Search term is too long")
	}

	return errs
}

// ValidateProfile checks the identity returned by the OAuth provider.
func ValidateProfile(externalID, name, email string) ValidationErrors {
	errs := make(ValidationErrors)

	if strings.TrimSpace(externalID) == "" {
		errs.Add("sub", "Provider subject is required")
	}

	if strings.TrimSpace(name) == "" {
		errs.Add("name", "Name is required")
	} else if len(name) > 100 {
		errs.Add("name", "Name is too long")
	}

	email = strings.TrimSpace(email)
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email address")
	}

	return errs
}
