package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"xmppchat/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrDuplicateMessage indicates the message id already exists in its conversation.
	ErrDuplicateMessage = errors.New("storage: duplicate message id")
)

const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusSent      = "sent"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusDisplayed = "displayed"
	DeliveryStatusReceived  = "received"
	DeliveryStatusFailed    = "failed"
)

const (
	TransferStatusPending  = "pending"
	TransferStatusComplete = "complete"
	TransferStatusFailed   = "failed"
)

const currentChatPartnerKey = "current_chat_partner"

// Message is a persisted message plus its delivery state.
type Message struct {
	models.Message
	DeliveryStatus string
}

// Attachment tracks the download of an out-of-band attachment.
type Attachment struct {
	MessageID         string `db:"message_id"`
	URL               string `db:"url"`
	MediaType         string `db:"media_type"`
	StoredPath        string `db:"stored_path"`
	Filesize          int64  `db:"filesize"`
	TimestampReceived *int64 `db:"timestamp_received"`
	TransferStatus    string `db:"transfer_status"`
}

type messageRow struct {
	ConversationJID string `db:"conversation_jid"`
	MessageID       string `db:"message_id"`
	SenderResource  string `db:"sender_resource"`
	Body            string `db:"body"`
	MediaType       string `db:"media_type"`
	Direction       int    `db:"direction"`
	IsGroup         bool   `db:"is_group"`
	Security        int    `db:"security"`
	Timestamp       int64  `db:"timestamp"`
	DeliveryStatus  string `db:"delivery_status"`
}

func (r messageRow) toMessage() Message {
	return Message{
		Message: models.Message{
			ID:              r.MessageID,
			ConversationJID: r.ConversationJID,
			SenderResource:  r.SenderResource,
			Body:            r.Body,
			MediaType:       r.MediaType,
			Direction:       models.Direction(r.Direction),
			IsGroup:         r.IsGroup,
			Security:        models.SecurityLevel(r.Security),
			Timestamp:       r.Timestamp,
		},
		DeliveryStatus: r.DeliveryStatus,
	}
}

func validateDeliveryStatus(status string) error {
	switch status {
	case DeliveryStatusPending, DeliveryStatusSent, DeliveryStatusDelivered,
		DeliveryStatusDisplayed, DeliveryStatusReceived, DeliveryStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid delivery status %q", status)
	}
}

func validateTransferStatus(status string) error {
	switch status {
	case TransferStatusPending, TransferStatusComplete, TransferStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid transfer status %q", status)
	}
}

func validateDirection(direction models.Direction) error {
	switch direction {
	case models.DirectionIncoming, models.DirectionOutgoing:
		return nil
	default:
		return fmt.Errorf("invalid direction %d", direction)
	}
}

func validateSecurity(security models.SecurityLevel) error {
	switch security {
	case models.SecurityPlain, models.SecurityEncrypted:
		return nil
	default:
		return fmt.Errorf("invalid security level %d", security)
	}
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
