package privacy

import "github.com/sirupsen/logrus"

// MaskingFormatter masks sensitive fields before delegating to the wrapped formatter.
// Set Disabled to log raw values, e.g. in verbose mode.
type MaskingFormatter struct {
	Inner    logrus.Formatter
	Disabled bool
}

// Format implements logrus.Formatter
func (f *MaskingFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	if f.Disabled || len(entry.Data) == 0 {
		return f.Inner.Format(entry)
	}

	clone := *entry
	clone.Data = logrus.Fields(MaskSensitiveFields(entry.Data))
	return f.Inner.Format(&clone)
}
