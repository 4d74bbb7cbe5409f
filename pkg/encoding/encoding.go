// Package encoding provides the two wire encodings the request engine needs:
// percent-encoding for POST bodies and Basic-auth base64 for credentials.
package encoding

import "encoding/base64"

// BasicAuth returns the value for an Authorization/Proxy-Authorization
// header: the standard Base64 encoding (RFC 4648, with padding) of
// "user:pass".
func BasicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

const hexDigits = "0123456789abcdef"

// PercentEncode escapes s for use in a POST form body: every byte outside
// A-Z a-z 0-9 _ - . is replaced by %HH lower-case hex. Unlike
// net/url.QueryEscape, space is not special-cased to '+' and '~' is not
// preserved — this matches the encoder's exact preserved-character rule,
// which net/url's does not.
func PercentEncode(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			out = append(out, c)
			continue
		}
		out = append(out, '%', hexDigits[c>>4], hexDigits[c&0xf])
	}
	return string(out)
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-' || c == '.':
		return true
	}
	return false
}
