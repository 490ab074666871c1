package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"xmppchat/models"
)

const selectMessageColumns = `SELECT
	conversation_jid,
	message_id,
	sender_resource,
	body,
	media_type,
	direction,
	is_group,
	security,
	timestamp,
	delivery_status
FROM messages`

// AddMessage inserts a new message row. Outgoing messages start pending,
// incoming ones as received. A message id already stored for the same
// conversation is not overwritten and yields ErrDuplicateMessage.
func (s *Store) AddMessage(message models.Message) error {
	if message.ID == "" {
		return errors.New("message_id is required")
	}
	if message.ConversationJID == "" {
		return errors.New("conversation_jid is required")
	}
	if message.Body == "" {
		return errors.New("body is required")
	}
	if message.MediaType == "" {
		message.MediaType = models.MediaTypeText
	}
	if err := validateDirection(message.Direction); err != nil {
		return err
	}
	if err := validateSecurity(message.Security); err != nil {
		return err
	}
	if message.Timestamp == 0 {
		message.Timestamp = nowUnixMilli()
	}

	status := DeliveryStatusReceived
	if message.Direction == models.DirectionOutgoing {
		status = DeliveryStatusPending
	}

	res, err := s.db.Exec(
		`INSERT INTO messages (
			conversation_jid,
			message_id,
			sender_resource,
			body,
			media_type,
			direction,
			is_group,
			security,
			timestamp,
			delivery_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_jid, message_id) DO NOTHING`,
		strings.ToLower(message.ConversationJID),
		message.ID,
		message.SenderResource,
		message.Body,
		message.MediaType,
		int(message.Direction),
		message.IsGroup,
		int(message.Security),
		message.Timestamp,
		status,
	)
	if err != nil {
		return fmt.Errorf("insert message %q: %w", message.ID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for insert message %q: %w", message.ID, err)
	}
	if rowsAffected == 0 {
		return ErrDuplicateMessage
	}

	return nil
}

// GetMessages returns conversation messages ordered by timestamp.
func (s *Store) GetMessages(conversationJID string, limit, offset int) ([]Message, error) {
	if conversationJID == "" {
		return nil, errors.New("conversation_jid is required")
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var rows []messageRow
	err := s.db.Select(
		&rows,
		selectMessageColumns+`
		WHERE conversation_jid = ?
		ORDER BY timestamp ASC, rowid ASC
		LIMIT ? OFFSET ?`,
		strings.ToLower(conversationJID),
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("get messages for conversation %q: %w", conversationJID, err)
	}

	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.toMessage())
	}
	return messages, nil
}

// GetMessageByID fetches one message of a conversation.
func (s *Store) GetMessageByID(conversationJID, messageID string) (*Message, error) {
	if conversationJID == "" || messageID == "" {
		return nil, errors.New("conversation_jid and message_id are required")
	}

	var row messageRow
	err := s.db.Get(
		&row,
		selectMessageColumns+`
		WHERE conversation_jid = ? AND message_id = ?`,
		strings.ToLower(conversationJID),
		messageID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %q: %w", messageID, err)
	}

	message := row.toMessage()
	return &message, nil
}

// LatestIncoming returns the newest incoming message of a conversation.
func (s *Store) LatestIncoming(conversationJID string) (*Message, error) {
	if conversationJID == "" {
		return nil, errors.New("conversation_jid is required")
	}

	var row messageRow
	err := s.db.Get(
		&row,
		selectMessageColumns+`
		WHERE conversation_jid = ? AND direction = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT 1`,
		strings.ToLower(conversationJID),
		int(models.DirectionIncoming),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest incoming message for %q: %w", conversationJID, err)
	}

	message := row.toMessage()
	return &message, nil
}

// MarkDelivered moves an outgoing pending or sent message to delivered.
// Messages that are already displayed keep their state.
func (s *Store) MarkDelivered(conversationJID, messageID string) error {
	if conversationJID == "" || messageID == "" {
		return errors.New("conversation_jid and message_id are required")
	}

	res, err := s.db.Exec(
		`UPDATE messages
		SET delivery_status = ?
		WHERE conversation_jid = ? AND message_id = ? AND direction = ?
		AND delivery_status IN (?, ?)`,
		DeliveryStatusDelivered,
		strings.ToLower(conversationJID),
		messageID,
		int(models.DirectionOutgoing),
		DeliveryStatusPending,
		DeliveryStatusSent,
	)
	if err != nil {
		return fmt.Errorf("mark delivered for message %q: %w", messageID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for mark delivered %q: %w", messageID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateDeliveryStatus updates delivery_status for a message.
func (s *Store) UpdateDeliveryStatus(conversationJID, messageID, status string) error {
	if conversationJID == "" || messageID == "" {
		return errors.New("conversation_jid and message_id are required")
	}
	if err := validateDeliveryStatus(status); err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE messages
		SET delivery_status = ?
		WHERE conversation_jid = ? AND message_id = ?`,
		status,
		strings.ToLower(conversationJID),
		messageID,
	)
	if err != nil {
		return fmt.Errorf("update delivery status for message %q: %w", messageID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for update delivery status %q: %w", messageID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// FailStalePending marks outgoing messages still pending before cutoff as failed.
func (s *Store) FailStalePending(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(
		`UPDATE messages
		SET delivery_status = ?
		WHERE delivery_status = ? AND timestamp < ?`,
		DeliveryStatusFailed,
		DeliveryStatusPending,
		cutoffTimestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("fail stale pending messages: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for fail stale pending: %w", err)
	}

	return rowsAffected, nil
}

// SetCurrentChatPartner records the conversation the user is looking at. Empty clears it.
func (s *Store) SetCurrentChatPartner(jid string) error {
	_, err := s.db.Exec(
		`INSERT INTO ui_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		currentChatPartnerKey,
		strings.ToLower(jid),
	)
	if err != nil {
		return fmt.Errorf("set current chat partner: %w", err)
	}
	return nil
}

// CurrentChatPartner returns the focused conversation's bare JID, or "" when none.
func (s *Store) CurrentChatPartner() (string, error) {
	var jid string
	err := s.db.Get(&jid, `SELECT value FROM ui_state WHERE key = ?`, currentChatPartnerKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get current chat partner: %w", err)
	}
	return jid, nil
}
