package validation

import (
	"strings"

	"leadflow/internal/errors"
)

// MinPhoneDigits is the shortest digit string accepted as a phone number
const MinPhoneDigits = 8

const chatSuffix = "@c.us"

// Phone is a normalized phone number. The zero value is invalid.
type Phone struct {
	digits string
}

// NormalizePhone strips everything but digits from raw and prepends countryCode unless
// the digits already start with it. Normalizing a canonical number returns it unchanged.
func NormalizePhone(raw, countryCode string) (Phone, error) {
	digits := onlyDigits(raw)
	if len(digits) < MinPhoneDigits {
		return Phone{}, errors.NewInvalidPhoneError(len(digits), MinPhoneDigits)
	}

	cc := onlyDigits(countryCode)
	if cc != "" && !strings.HasPrefix(digits, cc) {
		digits = cc + digits
	}
	return Phone{digits: digits}, nil
}

// E164 returns "+digits", the form stored on contacts
func (p Phone) E164() string {
	return "+" + p.digits
}

// Digits returns the bare digits, the form used for gateway lookups
func (p Phone) Digits() string {
	return p.digits
}

// ChatID returns the gateway chat address for the number
func (p Phone) ChatID() string {
	return p.digits + chatSuffix
}

// IsZero reports whether p was never successfully normalized
func (p Phone) IsZero() bool {
	return p.digits == ""
}

func (p Phone) String() string {
	return p.E164()
}

// CanonicalFromChatID converts a gateway chat id such as "5511987654321@c.us" into
// "+5511987654321". The gateway's id is authoritative, so no country code is added.
func CanonicalFromChatID(chatID string) string {
	if i := strings.IndexByte(chatID, '@'); i >= 0 {
		chatID = chatID[:i]
	}
	digits := onlyDigits(chatID)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
