package utils

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrDecode is returned when an image payload cannot be turned into image bytes.
var ErrDecode = errors.New("invalid image payload")

const base64Marker = "base64,"

var payloadEncodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// StripDataURI removes a leading "data:<mime>;base64," header if present and
// returns the bare base64 text.
func StripDataURI(payload string) (string, error) {
	s := strings.TrimSpace(payload)
	if !strings.HasPrefix(s, "data:") {
		return s, nil
	}
	idx := strings.Index(s, base64Marker)
	if idx < 0 {
		return "", fmt.Errorf("%w: data URI is not base64 encoded", ErrDecode)
	}
	return s[idx+len(base64Marker):], nil
}

// DecodePayload turns a base64 image payload, optionally prefixed with a data
// URI header, into raw image bytes. Standard and URL-safe alphabets are
// accepted, padded or not.
func DecodePayload(payload string) ([]byte, error) {
	s, err := StripDataURI(payload)
	if err != nil {
		return nil, err
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	for _, enc := range payloadEncodings {
		data, err := enc.DecodeString(s)
		if err == nil && len(data) > 0 {
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: payload is not valid base64", ErrDecode)
}
