package pipeline

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ResolveID picks a stable message id: the stanza id, then the XEP-0359 id,
// then the receive time in unix milliseconds. Two fallback ids taken in the
// same millisecond collide; that is not detected.
func ResolveID(stanzaID, alternateID string, receivedAt time.Time) string {
	if stanzaID != "" {
		return stanzaID
	}
	if alternateID != "" {
		return alternateID
	}
	return strconv.FormatInt(receivedAt.UnixMilli(), 10)
}

// NewOutboundID returns a random id for a message composed locally.
func NewOutboundID() string {
	return uuid.NewString()
}
