package fetcher

import (
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// toUTF8 transcodes a text body to UTF-8 using the declared charset, a BOM or
// a <meta> charset. Undeclared bodies that are already valid UTF-8 pass through.
// Non-text bodies are returned unchanged.
func toUTF8(body []byte, contentType string) []byte {
	if len(body) == 0 || !isText(contentType) {
		return body
	}

	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" || (!certain && validUTF8(body)) {
		return body
	}

	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}

	return decoded
}

// validUTF8 ignores a rune cut off at the end of a truncated body.
func validUTF8(body []byte) bool {
	for i := 1; i <= utf8.UTFMax && i <= len(body); i++ {
		start := len(body) - i
		if !utf8.RuneStart(body[start]) {
			continue
		}

		if !utf8.FullRune(body[start:]) {
			body = body[:start]
		}

		break
	}

	return utf8.Valid(body)
}

func isText(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return strings.HasPrefix(mediaType, "text/") || strings.HasSuffix(mediaType, "+xml")
}
