package constants

import "strings"

// CardType describes how many sides of a card are captured.
type CardType string

const (
	CardTypeSingle CardType = "single"
	CardTypeDouble CardType = "double"
)

// ParseCardType defaults to single for empty or unknown input.
func ParseCardType(v string) CardType {
	if CardType(strings.ToLower(strings.TrimSpace(v))) == CardTypeDouble {
		return CardTypeDouble
	}
	return CardTypeSingle
}

// AllowedImageExtensions holds the image extensions accepted from a capture source.
var AllowedImageExtensions = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
	"heic": "image/heic",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ContentTypeForExt returns the MIME type for an allowed extension, or "" when not allowed.
func ContentTypeForExt(ext string) string {
	return AllowedImageExtensions[NormalizeExt(ext)]
}
