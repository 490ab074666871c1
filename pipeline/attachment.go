package pipeline

import (
	"net/url"
	"strings"

	"xmppchat/crypto"
	"xmppchat/models"
)

// Attachment is the attachment reference found in a message, if any.
type Attachment struct {
	// URL is the full reference including any fragment. Empty when there is none.
	URL       string
	MediaType string
}

// HasURL reports whether an attachment reference was found.
func (a Attachment) HasURL() bool {
	return a.URL != ""
}

// ResolveAttachment looks for an aesgcm:// body first, then an out-of-band URL.
// The body only counts when the whole body is the link. A reference that does
// not parse as an absolute URL with a host is ignored, so an OOB value such as
// "photo.jpg" leaves the message a plain text one.
func ResolveAttachment(body, outOfBandURL string) Attachment {
	candidate := ""
	switch {
	case crypto.IsAESGCMURL(strings.TrimSpace(body)):
		candidate = strings.TrimSpace(body)
	case outOfBandURL != "":
		candidate = outOfBandURL
	}

	if candidate == "" {
		return Attachment{MediaType: models.MediaTypeText}
	}

	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Host == "" {
		return Attachment{MediaType: models.MediaTypeText}
	}

	return Attachment{URL: candidate, MediaType: models.MediaTypeForFilename(parsed.Path)}
}
