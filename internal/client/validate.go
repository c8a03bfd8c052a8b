package client

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Input limits enforced before a task is submitted. The ledger accepts
// text of any length; these limits exist only on the client.
const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 500
)

// ValidationError rejects user input before any transaction is built.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// ValidateTask checks a title and description, counting characters as runes.
func ValidateTask(title, description string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if n := utf8.RuneCountInString(title); n > MaxTitleLength {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters (got %d)", MaxTitleLength, n)}
	}
	if n := utf8.RuneCountInString(description); n > MaxDescriptionLength {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d characters (got %d)", MaxDescriptionLength, n)}
	}
	return nil
}
