package service

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"leadflow/internal/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Template variables available to every dispatch message
const (
	VarName        = "name"
	VarFirstName   = "first_name"
	VarTitle       = "title"
	VarLandingPage = "landing_page"
	VarDate        = "date"
	VarTime        = "time"
	VarDateTime    = "datetime"
	VarNumber      = "number"
	VarEmail       = "email"
	VarLink        = "link"
)

// RenderTemplate replaces {{key}} placeholders. Keys match case-insensitively
// and unknown keys render empty.
func RenderTemplate(tpl string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		key := strings.ToLower(placeholderPattern.FindStringSubmatch(match)[1])
		return vars[key]
	})
}

// HasPlaceholder reports whether tpl references key
func HasPlaceholder(tpl, key string) bool {
	for _, m := range placeholderPattern.FindAllStringSubmatch(tpl, -1) {
		if strings.EqualFold(m[1], key) {
			return true
		}
	}
	return false
}

// templateVars builds the variable set for one submission. Submitted fields are
// added first so the built-in names always win.
func templateVars(sub *models.Submission, page *models.LandingPage, canonicalNumber string, at time.Time) map[string]string {
	vars := make(map[string]string, len(sub.Fields)+10)
	for k, v := range sub.Fields {
		vars[strings.ToLower(k)] = v
	}

	name := strings.TrimSpace(sub.Name())
	vars[VarName] = name
	vars[VarFirstName] = firstWord(name)
	vars[VarTitle] = page.Title
	vars[VarLandingPage] = page.Title
	vars[VarDate] = at.Format("2006-01-02")
	vars[VarTime] = at.Format("15:04")
	vars[VarDateTime] = at.Format("2006-01-02 15:04")
	vars[VarEmail] = strings.TrimSpace(sub.Email())
	if canonicalNumber != "" {
		vars[VarNumber] = canonicalNumber
	}
	return vars
}

func firstWord(s string) string {
	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// defaultNotificationTemplate lists every submitted field, standard ones first
func defaultNotificationTemplate(sub *models.Submission) string {
	var b strings.Builder
	b.WriteString("New lead from {{title}}\n")
	b.WriteString("Name: {{name}}\n")
	b.WriteString("WhatsApp: {{number}}\n")
	if sub.Email() != "" {
		b.WriteString("Email: {{email}}\n")
	}

	keys := make([]string, 0, len(sub.Fields))
	for k := range sub.Fields {
		if !models.IsStandardField(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		// values are written literally so they cannot inject placeholders
		fmt.Fprintf(&b, "%s: %s\n", k, escapePlaceholders(sub.Fields[k]))
	}
	b.WriteString("Received: {{datetime}}")
	return b.String()
}

func escapePlaceholders(s string) string {
	return strings.ReplaceAll(s, "{{", "{ {")
}
