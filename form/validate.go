package form

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dlclark/regexp2"

	"github.com/lmarchetti42/chatform/domain"
)

// patternTimeout bounds regex evaluation so a pathological backend pattern
// cannot stall the conversation.
const patternTimeout = 250 * time.Millisecond

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"02/01/2006",
	"01/02/2006",
}

// ValidationError describes why a field answer was rejected. It is shown to
// the user as a re-prompt.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validate checks a value against a field's declared rules. A nil error means
// the value is acceptable as answered.
func Validate(spec domain.FieldSpec, value any) error {
	text, isEmpty := stringValue(value)

	rules := spec.Validation
	if isEmpty {
		if rules != nil && rules.Required {
			return &ValidationError{
				Field:   spec.Name,
				Message: fmt.Sprintf("%s is required.", displayName(spec)),
			}
		}
		return nil
	}

	if err := validateType(spec, value, text); err != nil {
		return err
	}
	if rules == nil {
		return nil
	}

	if n := utf8.RuneCountInString(text); rules.MinLength > 0 && n < rules.MinLength {
		return &ValidationError{
			Field:   spec.Name,
			Message: fmt.Sprintf("%s must be at least %d characters.", displayName(spec), rules.MinLength),
		}
	}
	if n := utf8.RuneCountInString(text); rules.MaxLength > 0 && n > rules.MaxLength {
		return &ValidationError{
			Field:   spec.Name,
			Message: fmt.Sprintf("%s must be at most %d characters.", displayName(spec), rules.MaxLength),
		}
	}

	if len(rules.Enum) > 0 {
		found := false
		for _, allowed := range rules.Enum {
			if strings.EqualFold(allowed, text) {
				found = true
				break
			}
		}
		if !found {
			return &ValidationError{
				Field:   spec.Name,
				Message: fmt.Sprintf("%s must be one of: %s.", displayName(spec), strings.Join(rules.Enum, ", ")),
			}
		}
	}

	if rules.Pattern != "" {
		// Backend patterns are authored in a JS-flavored dialect;
		// regexp2 accepts constructs stdlib regexp does not.
		re, err := regexp2.Compile(rules.Pattern, regexp2.None)
		if err != nil {
			// A broken pattern never blocks the user.
			return nil
		}
		re.MatchTimeout = patternTimeout
		ok, err := re.MatchString(text)
		if err == nil && !ok {
			return &ValidationError{
				Field:   spec.Name,
				Message: fmt.Sprintf("%s does not match the expected format.", displayName(spec)),
			}
		}
	}

	return nil
}

func validateType(spec domain.FieldSpec, value any, text string) error {
	switch spec.Type {
	case domain.FieldTypeNumber:
		switch value.(type) {
		case float64, int, int64:
			return nil
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err != nil {
			return &ValidationError{
				Field:   spec.Name,
				Message: fmt.Sprintf("%s must be a number.", displayName(spec)),
			}
		}
	case domain.FieldTypeBoolean:
		if _, ok := value.(bool); ok {
			return nil
		}
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "true", "false", "yes", "no":
			return nil
		}
		return &ValidationError{
			Field:   spec.Name,
			Message: fmt.Sprintf("%s must be yes or no.", displayName(spec)),
		}
	case domain.FieldTypeDate:
		trimmed := strings.TrimSpace(text)
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, trimmed); err == nil {
				return nil
			}
		}
		return &ValidationError{
			Field:   spec.Name,
			Message: fmt.Sprintf("%s must be a date such as 2024-01-15.", displayName(spec)),
		}
	}
	return nil
}

// stringValue renders a value for rule checks and reports whether it is
// empty.
func stringValue(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", true
	case string:
		return v, strings.TrimSpace(v) == ""
	case fmt.Stringer:
		s := v.String()
		return s, strings.TrimSpace(s) == ""
	default:
		return fmt.Sprintf("%v", v), false
	}
}
