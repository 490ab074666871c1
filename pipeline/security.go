package pipeline

import (
	"strings"

	"xmppchat/models"
	"xmppchat/stanza"
)

// PlainTextOverrides reports destinations the user forced to plain text.
type PlainTextOverrides interface {
	ForcePlainText(jid string) bool
}

// Path is the chosen outbound encoding.
type Path struct {
	Security models.SecurityLevel
	// Encode applies the path to a composed stanza.
	Encode func(*stanza.Message)
}

// SecurityFromEncryption maps inbound encryption metadata to a security level.
func SecurityFromEncryption(method stanza.Encryption) models.SecurityLevel {
	if method == stanza.EncryptionNone {
		return models.SecurityPlain
	}
	return models.SecurityEncrypted
}

// ChoosePath picks OMEMO when it is enabled and the destination is not forced
// to plain text. Group destinations always go plain. The plain path adds an
// out-of-band URL equal to the body for non-text media.
func ChoosePath(destination string, isGroup bool, mediaType string, omemoEnabled bool, overrides PlainTextOverrides) Path {
	forced := overrides != nil && overrides.ForcePlainText(destination)

	// TODO: OMEMO for group chats needs the room's occupant device lists.
	if omemoEnabled && !forced && !isGroup {
		return Path{
			Security: models.SecurityEncrypted,
			Encode: func(msg *stanza.Message) {
				msg.SetEncryptionMethod(stanza.NSOMEMO, "OMEMO")
			},
		}
	}

	annotate := mediaType != "" && !strings.EqualFold(mediaType, models.MediaTypeText)
	return Path{
		Security: models.SecurityPlain,
		Encode: func(msg *stanza.Message) {
			if annotate {
				msg.SetOutOfBandURL(msg.Body)
			}
		},
	}
}
