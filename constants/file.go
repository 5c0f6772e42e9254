package constants

import (
	"mime"
	"strings"
)

// ImageExtensions maps image content types to the extension used on disk.
var ImageExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// AllowedExtensions holds the source image extensions accepted from local paths.
var AllowedExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"webp": {},
	"gif":  {},
}

// DefaultImageExt is used when the content type is unknown.
const DefaultImageExt = "png"

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ExtForContentType returns the file extension for a Content-Type header value.
func ExtForContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if ext, ok := ImageExtensions[mediaType]; ok {
		return ext
	}
	return DefaultImageExt
}
