package privacy

import (
	"net"
	"strings"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+5511987654321" -> "+*********4321"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	return maskString(phone, 4)
}

// MaskChatID masks the number part of a gateway chat id
// Example: "5511987654321@c.us" -> "*********4321@c.us"
func MaskChatID(chatID string) string {
	if chatID == "" {
		return ""
	}

	if i := strings.Index(chatID, "@"); i >= 0 {
		return maskString(chatID[:i], 4) + chatID[i:]
	}
	return maskString(chatID, 4)
}

// MaskMessageID masks a gateway message id while preserving its structure
// Example: "true_5511987654321@c.us_3EB0A1B2C3" -> "true_*********4321@c.us_******B2C3"
func MaskMessageID(messageID string) string {
	if messageID == "" {
		return ""
	}

	parts := strings.Split(messageID, "_")
	if len(parts) >= 3 {
		return parts[0] + "_" + MaskChatID(parts[1]) + "_" + maskString(strings.Join(parts[2:], "_"), 4)
	}
	return maskString(messageID, 8)
}

// MaskEmail keeps the first character of the local part and the domain
// Example: "ana.souza@example.com" -> "a********@example.com"
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return maskString(email, 0)
	}
	local := email[:at]
	return local[:1] + strings.Repeat("*", len(local)-1) + email[at:]
}

// MaskIP zeroes the host part of an address: the last octet for IPv4, the last 80 bits for IPv6
func MaskIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return maskString(ip, 0)
	}
	if v4 := parsed.To4(); v4 != nil {
		return net.IPv4(v4[0], v4[1], v4[2], 0).String()
	}
	return parsed.Mask(net.CIDRMask(48, 128)).String()
}

func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "phone", "number", "canonical_number", "notification_number":
			masked[k] = MaskPhoneNumber(s)
		case "chat_id", "chatId", "canonical_id":
			masked[k] = MaskChatID(s)
		case "message_id", "gateway_message_id":
			masked[k] = MaskMessageID(s)
		case "email":
			masked[k] = MaskEmail(s)
		case "ip", "remote_ip", "client_ip":
			masked[k] = MaskIP(s)
		default:
			masked[k] = v
		}
	}

	return masked
}
