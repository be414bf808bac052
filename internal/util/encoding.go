package util

import (
	"encoding/base64"
	"strings"

	"golang.org/x/text/unicode/norm"
)

func Normalize(s string) string {
	return norm.NFKD.String(s)
}

// Base64Encode uses the standard padded alphabet with no line wrapping.
func Base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64Decode accepts the standard padded alphabet. Line breaks and
// surrounding spaces, as emitted by wrapping encoders, are ignored.
func Base64Decode(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	return base64.StdEncoding.Strict().DecodeString(s)
}
