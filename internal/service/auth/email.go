package auth

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/splax/clouddeploy/internal/domain"
)

var emailPattern = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$")

var disposableDomains = map[string]struct{}{
	"tempmail.com":      {},
	"guerrillamail.com": {},
	"mailinator.com":    {},
	"10minutemail.com":  {},
	"throwawaymail.com": {},
	"yopmail.com":       {},
	"temp-mail.org":     {},
	"fakeinbox.com":     {},
	"sharklasers.com":   {},
	"getairmail.com":    {},
	"maildrop.cc":       {},
	"trashmail.com":     {},
}

var domainTypos = map[string]string{
	"gmial.com":   "gmail.com",
	"gmal.com":    "gmail.com",
	"gmail.cmo":   "gmail.com",
	"gmail.con":   "gmail.com",
	"yahooo.com":  "yahoo.com",
	"yaho.com":    "yahoo.com",
	"hotmal.com":  "hotmail.com",
	"hotmai.com":  "hotmail.com",
	"outlok.com":  "outlook.com",
	"outllok.com": "outlook.com",
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks syntax, rejects disposable providers and common
// domain typos, and returns the normalized address.
func ValidateEmail(email string) (string, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return "", domain.Invalid("Email is required")
	}
	if !emailPattern.MatchString(normalized) {
		return "", domain.Invalid("Invalid email format")
	}
	host := normalized[strings.LastIndexByte(normalized, '@')+1:]
	if _, ok := disposableDomains[host]; ok {
		return "", domain.Invalid("Disposable email addresses are not allowed")
	}
	if suggestion, ok := domainTypos[host]; ok {
		return "", domain.Invalid(fmt.Sprintf("Did you mean @%s instead of @%s?", suggestion, host))
	}
	return normalized, nil
}
