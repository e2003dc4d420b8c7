package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ErrInvalidPhoneNumber is returned for numbers that do not parse or are not dialable
var ErrInvalidPhoneNumber = errors.New("invalid phone number")

// NormalizePhone parses raw in the context of defaultRegion and returns its E.164 form
func NormalizePhone(raw, defaultRegion string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPhoneNumber)
	}
	if defaultRegion == "" {
		defaultRegion = "US"
	}

	parsed, err := phonenumbers.Parse(raw, strings.ToUpper(defaultRegion))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPhoneNumber, err)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPhoneNumber, raw)
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
