package session

import (
	"net/http"
	"strings"
)

// ParseCookies parses a Cookie header value into name -> value pairs.
// Malformed segments are skipped and counted, the first occurrence of a name wins.
func ParseCookies(header string) (cookies map[string]string, skipped int) {
	cookies = make(map[string]string)
	for seg := range strings.SplitSeq(header, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		parsed, err := http.ParseCookie(seg)
		if err != nil || len(parsed) != 1 {
			skipped++
			continue
		}
		if _, seen := cookies[parsed[0].Name]; seen {
			continue
		}
		cookies[parsed[0].Name] = parsed[0].Value
	}
	return cookies, skipped
}

// RequestCookies parses all Cookie headers of the request.
func RequestCookies(r *http.Request) (cookies map[string]string, skipped int) {
	return ParseCookies(strings.Join(r.Header.Values("Cookie"), "; "))
}
