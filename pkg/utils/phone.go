package utils

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is the region used to interpret numbers that arrive
// without a country prefix. Overridable via config at startup.
var DefaultPhoneRegion = "AE"

// NormalizePhone parses a raw phone string and returns it in E.164 form.
// Providers deliver numbers in wildly inconsistent shapes (leading zeros,
// spaces, missing '+'); anything that cannot be parsed into a valid number
// is a permanent data error, not a transient one.
func NormalizePhone(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty phone number")
	}

	// Numbers arriving as bare digit strings (WhatsApp wa_id) carry the
	// country code already; give the parser a '+' hint for those.
	candidate := trimmed
	if !strings.HasPrefix(candidate, "+") && len(onlyDigits(candidate)) > 10 {
		candidate = "+" + onlyDigits(candidate)
	}

	num, err := phonenumbers.Parse(candidate, DefaultPhoneRegion)
	if err != nil {
		return "", fmt.Errorf("failed to parse phone %q: %w", raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("invalid phone number %q", raw)
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
