package middleware

import "strings"

// MaskSessionID keeps session ids out of logs; only a short prefix survives.
func MaskSessionID(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
