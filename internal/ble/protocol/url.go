package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// MaxEncodedURL is the maximum number of encoded bytes after the scheme.
const MaxEncodedURL = URLMaxLength - 1

// ErrURL is returned for URLs that cannot be represented in a URL frame.
var ErrURL = errors.New("protocol: unencodable URL")

// Scheme prefixes, indexed by their scheme byte.
var urlSchemes = []string{
	"http://www.",
	"https://www.",
	"http://",
	"https://",
}

// Expansion codes, indexed by their byte value. Entries with a trailing
// slash come first so they win over the shorter form.
var urlExpansions = []string{
	".com/", ".org/", ".edu/", ".net/", ".info/", ".biz/", ".gov/",
	".com", ".org", ".edu", ".net", ".info", ".biz", ".gov",
}

// EncodeURL compresses url into the scheme byte followed by the tokenized
// remainder.
func EncodeURL(url string) ([]byte, error) {
	scheme := -1
	for i, prefix := range urlSchemes {
		if strings.HasPrefix(url, prefix) {
			scheme = i
			url = url[len(prefix):]
			break
		}
	}
	if scheme < 0 {
		return nil, fmt.Errorf("%w: missing http(s) scheme", ErrURL)
	}

	out := []byte{byte(scheme)}
	for len(url) > 0 {
		code := -1
		for i, exp := range urlExpansions {
			if strings.HasPrefix(url, exp) {
				code = i
				url = url[len(exp):]
				break
			}
		}
		if code >= 0 {
			out = append(out, byte(code))
		} else {
			c := url[0]
			if c <= 0x20 || c >= 0x7f {
				return nil, fmt.Errorf("%w: byte 0x%02x", ErrURL, c)
			}
			out = append(out, c)
			url = url[1:]
		}
		if len(out)-1 > MaxEncodedURL {
			return nil, fmt.Errorf("%w: longer than %d encoded bytes", ErrURL, MaxEncodedURL)
		}
	}
	return out, nil
}

// DecodeURL expands the scheme byte and encoded bytes back into a URL.
func DecodeURL(encoded []byte) (string, error) {
	if len(encoded) == 0 || int(encoded[0]) >= len(urlSchemes) {
		return "", fmt.Errorf("%w: bad scheme", ErrURL)
	}
	var sb strings.Builder
	sb.WriteString(urlSchemes[encoded[0]])
	for _, c := range encoded[1:] {
		if int(c) < len(urlExpansions) {
			sb.WriteString(urlExpansions[c])
			continue
		}
		if c <= 0x20 || c >= 0x7f {
			return "", fmt.Errorf("%w: byte 0x%02x", ErrURL, c)
		}
		sb.WriteByte(c)
	}
	return sb.String(), nil
}
