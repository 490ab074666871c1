package pipeline

import (
	"xmppchat/stanza"
)

// Classification is the origin/replay verdict for an inbound stanza.
type Classification struct {
	// IsSelfCarbon is set when another device of the local account sent the message.
	IsSelfCarbon bool
	// IsHistoryReplay is set for delayed group chat stanzas; they are never stored.
	IsHistoryReplay bool
}

// Classify decides whether a stanza is a self carbon and whether it is group history replay.
func Classify(senderBareJID, localBareJID, messageType string, hasValidStamp bool) Classification {
	return Classification{
		IsSelfCarbon:    stanza.BareEqual(senderBareJID, localBareJID),
		IsHistoryReplay: messageType == stanza.TypeGroupChat && hasValidStamp,
	}
}
