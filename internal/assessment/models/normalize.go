package models

import "strings"

// PhoneLength is the exact digit count a phone value must have to count as
// present-valid.
const PhoneLength = 9

// NormalizeEmail trims surrounding whitespace. The raw value is stored even
// when the format is invalid so the user can correct it; invalid emails are
// simply never submitted for verification.
func NormalizeEmail(raw string) string {
	return strings.TrimSpace(raw)
}

// EmailFormatValid checks the minimal "local@domain.tld" shape: no
// whitespace, exactly one '@' with a non-empty local part, and at least one
// '.' after the '@'. Deliverability is the verifier's job, not format's.
func EmailFormatValid(email string) bool {
	if email == "" || strings.ContainsAny(email, " \t\n\r") {
		return false
	}
	at := strings.Index(email, "@")
	if at <= 0 || at != strings.LastIndex(email, "@") {
		return false
	}
	domain := email[at+1:]
	dot := strings.Index(domain, ".")
	return dot > 0 && dot < len(domain)-1
}

// NormalizePhone strips every non-digit character.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneValid reports whether a normalized phone is present-valid. A
// non-empty value of any other length is present-invalid, which derivation
// distinguishes from absent.
func PhoneValid(phone string) bool {
	return len(phone) == PhoneLength
}
