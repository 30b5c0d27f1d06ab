package validation

import (
	"testing"

	"leadflow/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		countryCode string
		e164        string
		digits      string
	}{
		{"local number gets country code", "11987654321", "55", "+5511987654321", "5511987654321"},
		{"formatted local number", "(11) 98765-4321", "55", "+5511987654321", "5511987654321"},
		{"already international", "+55 11 98765-4321", "55", "+5511987654321", "5511987654321"},
		{"country code with plus", "2025550123", "+1", "+12025550123", "12025550123"},
		{"no country code configured", "447911123456", "", "+447911123456", "447911123456"},
		{"exactly eight digits", "1234-5678", "", "+12345678", "12345678"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NormalizePhone(tt.raw, tt.countryCode)
			require.NoError(t, err)
			assert.Equal(t, tt.e164, p.E164())
			assert.Equal(t, tt.digits, p.Digits())
			assert.Equal(t, tt.digits+"@c.us", p.ChatID())
			assert.False(t, p.IsZero())
		})
	}
}

func TestNormalizePhone_TooShort(t *testing.T) {
	for _, raw := range []string{"", "abc", "123-4567", "+55"} {
		t.Run(raw, func(t *testing.T) {
			p, err := NormalizePhone(raw, "55")
			require.Error(t, err)
			assert.True(t, p.IsZero())
			assert.Equal(t, errors.ErrCodeInvalidPhone, errors.GetCode(err))
		})
	}
}

func TestNormalizePhone_Idempotent(t *testing.T) {
	inputs := []string{"11987654321", "+5511987654321", "5511987654321", "(21) 3333-4444"}
	for _, in := range inputs {
		first, err := NormalizePhone(in, "55")
		require.NoError(t, err)

		second, err := NormalizePhone(first.E164(), "55")
		require.NoError(t, err)
		assert.Equal(t, first, second)

		third, err := NormalizePhone(first.Digits(), "55")
		require.NoError(t, err)
		assert.Equal(t, first, third)
	}
}

func TestCanonicalFromChatID(t *testing.T) {
	assert.Equal(t, "+5511987654321", CanonicalFromChatID("5511987654321@c.us"))
	assert.Equal(t, "+5511987654321", CanonicalFromChatID("5511987654321"))
	assert.Equal(t, "", CanonicalFromChatID("@c.us"))
}
