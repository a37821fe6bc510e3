package gateway

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// ValidateBasic reports whether header is "Basic <base64(token)>".
//
// Surrounding whitespace is ignored. The scheme must be followed by at least
// one space and the payload must decode (standard base64) to valid UTF-8
// equal to token. An empty token never validates.
func ValidateBasic(token, header string) bool {
	if token == "" {
		return false
	}
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "Basic")
	if !ok || !strings.HasPrefix(rest, " ") {
		return false
	}
	enc := strings.TrimLeft(rest, " ")
	if enc == "" {
		return false
	}
	dec, err := base64.StdEncoding.DecodeString(enc)
	if err != nil || !utf8.Valid(dec) {
		return false
	}
	return subtle.ConstantTimeCompare(dec, []byte(token)) == 1
}
