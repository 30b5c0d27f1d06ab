package privacy

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskPhoneNumber(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"+", "+"},
		{"+1234", "+****"},
		{"+5511987654321", "+*********4321"},
		{"5511987654321", "*********4321"},
		{"123", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskPhoneNumber(tt.input))
		})
	}
}

func TestMaskChatID(t *testing.T) {
	assert.Equal(t, "*********4321@c.us", MaskChatID("5511987654321@c.us"))
	assert.Equal(t, "****@g.us", MaskChatID("1234@g.us"))
	assert.Equal(t, "****5678", MaskChatID("12345678"))
	assert.Equal(t, "", MaskChatID(""))
}

func TestMaskMessageID(t *testing.T) {
	assert.Equal(t, "true_*********4321@c.us_******B2C3", MaskMessageID("true_5511987654321@c.us_3EB0A1B2C3"))
	assert.Equal(t, "****12345678", MaskMessageID("abcd12345678"))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a********@example.com", MaskEmail("ana.souza@example.com"))
	assert.Equal(t, "*******", MaskEmail("invalid"))
}

func TestMaskIP(t *testing.T) {
	assert.Equal(t, "203.0.113.0", MaskIP("203.0.113.77"))
	assert.Equal(t, "2001:db8:abcd::", MaskIP("2001:db8:abcd:12::1"))
	assert.Equal(t, "*****", MaskIP("bogus"))
}

func TestMaskSensitiveFields(t *testing.T) {
	masked := MaskSensitiveFields(map[string]interface{}{
		"phone":         "+5511987654321",
		"chat_id":       "5511987654321@c.us",
		"email":         "ana@example.com",
		"ip":            "198.51.100.10",
		"submission_id": "abc",
		"count":         3,
	})

	assert.Equal(t, "+*********4321", masked["phone"])
	assert.Equal(t, "*********4321@c.us", masked["chat_id"])
	assert.Equal(t, "a**@example.com", masked["email"])
	assert.Equal(t, "198.51.100.0", masked["ip"])
	assert.Equal(t, "abc", masked["submission_id"])
	assert.Equal(t, 3, masked["count"])
	assert.Nil(t, MaskSensitiveFields(nil))
}

func TestMaskingFormatter(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	formatter := &MaskingFormatter{Inner: &logrus.JSONFormatter{}}
	logger.SetFormatter(formatter)

	logger.WithField("phone", "+5511987654321").Info("lead received")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "+*********4321", entry["phone"])

	buf.Reset()
	formatter.Disabled = true
	logger.WithField("phone", "+5511987654321").Info("lead received")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "+5511987654321", entry["phone"])
}
