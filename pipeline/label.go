package pipeline

import (
	"errors"
	"strings"
	"unicode"
)

var ErrInvalidLabel = errors.New("label must contain only letters, numbers, and underscores")

// ValidateLabel accepts labels made of letters, digits and underscores with
// at least one letter or digit.
func ValidateLabel(label string) error {
	stripped := strings.ReplaceAll(label, "_", "")
	if stripped == "" {
		return ErrInvalidLabel
	}
	for _, r := range stripped {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			return ErrInvalidLabel
		}
	}
	return nil
}

// SanitizeLabel derives a valid label from a free-form name such as a file
// name: every other rune becomes an underscore. It returns "" when nothing
// usable is left.
func SanitizeLabel(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	label := strings.Trim(b.String(), "_")
	if ValidateLabel(label) != nil {
		return ""
	}
	return label
}
