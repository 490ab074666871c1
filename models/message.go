package models

// Direction tells whether a message was received from or sent to a conversation.
type Direction int

const (
	// DirectionOutgoing marks messages sent by the local account, including self carbons.
	DirectionOutgoing Direction = 0
	// DirectionIncoming marks messages received from a peer or room occupant.
	DirectionIncoming Direction = 1
)

func (d Direction) String() string {
	if d == DirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// SecurityLevel is the coarse end-to-end protection flag of a message.
type SecurityLevel int

const (
	// SecurityPlain means no end-to-end encryption was applied.
	SecurityPlain SecurityLevel = 0
	// SecurityEncrypted means the message travelled end-to-end encrypted.
	SecurityEncrypted SecurityLevel = 1
)

func (s SecurityLevel) String() string {
	if s == SecurityEncrypted {
		return "encrypted"
	}
	return "plain"
}

const (
	// MediaTypeText is the media type of a plain text message.
	MediaTypeText = "txt"
	// MediaTypeUnknown is used for attachments whose extension is not recognized.
	MediaTypeUnknown = "application/octet-stream"
)

// Message is one persisted conversation entry.
type Message struct {
	ID              string        `json:"id"`
	ConversationJID string        `json:"conversation_jid"`
	SenderResource  string        `json:"sender_resource"`
	Body            string        `json:"body"`
	MediaType       string        `json:"media_type"`
	Direction       Direction     `json:"direction"`
	IsGroup         bool          `json:"is_group"`
	Security        SecurityLevel `json:"security"`
	Timestamp       int64         `json:"timestamp"`
}

// DownloadRequest asks the download executor to fetch an attachment.
type DownloadRequest struct {
	URL       string `json:"url"`
	MessageID string `json:"message_id"`
}
