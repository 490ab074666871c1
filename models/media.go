package models

import (
	"mime"
	"path"
	"strings"
)

// MediaTypeForFilename maps a file name or URL path to a media type by its
// extension. Parameters such as charset are stripped. Unknown or missing
// extensions yield MediaTypeUnknown.
func MediaTypeForFilename(name string) string {
	ext := strings.ToLower(path.Ext(path.Base(name)))
	if ext == "" {
		return MediaTypeUnknown
	}

	mediaType := mime.TypeByExtension(ext)
	if mediaType == "" {
		return MediaTypeUnknown
	}
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	return mediaType
}
