package logger

import "strings"

// RedactEmail masks the local part of an address, keeping its first two
// characters when it has more than two: "jane.doe@example.com" becomes
// "ja***@example.com" and "ab@example.com" becomes "***@example.com".
// Display-name forms such as "Jane <jane@example.com>" keep the name.
func RedactEmail(email string) string {
	if open := strings.LastIndex(email, "<"); open >= 0 && strings.HasSuffix(email, ">") {
		return email[:open+1] + RedactEmail(email[open+1:len(email)-1]) + ">"
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}
