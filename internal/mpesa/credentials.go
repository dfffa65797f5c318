package mpesa

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/d60-Lab/order-payments/internal/apperr"
)

// TimestampLayout is the Daraja request timestamp: YYYYMMDDHHmmss.
const TimestampLayout = "20060102150405"

// Timestamp formats t in server local time.
func Timestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}

// Password derives the STK request password: base64(shortCode + passKey + timestamp).
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

// NormalizePhone rewrites a Kenyan MSISDN to the 12 digit 2547XXXXXXXX form.
//
// Accepted inputs: 0 + 9 digits, 7 + 8 digits, or an already prefixed
// 254 + 9 digits. Spaces, dashes and a leading plus are ignored.
func NormalizePhone(phone string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	p = strings.TrimPrefix(p, "+")
	if !allDigits(p) {
		return "", apperr.Validation("invalid phone number %q", phone)
	}
	switch {
	case len(p) == 10 && p[0] == '0':
		return "254" + p[1:], nil
	case len(p) == 9 && p[0] == '7':
		return "254" + p, nil
	case len(p) == 12 && strings.HasPrefix(p, "254"):
		return p, nil
	}
	return "", apperr.Validation("invalid phone number %q: expected 07XXXXXXXX, 7XXXXXXXX or 2547XXXXXXXX", phone)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
