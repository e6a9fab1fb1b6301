// Package cookie provides shared cookie-related constants and checks.
package cookie

import "strings"

const (
	// ClientName is the default name of the browser-facing session cookie.
	ClientName = "spendgate-session"

	// BackendName is the default name of the session cookie the backend issues and expects.
	BackendName = "JSESSIONID"
)

// separators not allowed in a cookie name, RFC 6265 token rules
const separators = "()<>@,;:\\\"/[]?={} \t"

// ValidName reports whether name can be used as a cookie name.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r <= 0x20 || r >= 0x7f || strings.ContainsRune(separators, r) {
			return false
		}
	}
	return true
}
