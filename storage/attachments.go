package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// SaveAttachment inserts or resets the attachment row for a message and URL.
// Message ids are only unique per conversation, so the URL is part of the key.
func (s *Store) SaveAttachment(attachment Attachment) error {
	if attachment.MessageID == "" {
		return errors.New("message_id is required")
	}
	if attachment.URL == "" {
		return errors.New("url is required")
	}
	if attachment.TransferStatus == "" {
		attachment.TransferStatus = TransferStatusPending
	}
	if err := validateTransferStatus(attachment.TransferStatus); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`INSERT INTO attachments (
			message_id,
			url,
			media_type,
			stored_path,
			filesize,
			timestamp_received,
			transfer_status
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id, url) DO UPDATE SET
			media_type = excluded.media_type,
			stored_path = excluded.stored_path,
			filesize = excluded.filesize,
			timestamp_received = excluded.timestamp_received,
			transfer_status = excluded.transfer_status`,
		attachment.MessageID,
		attachment.URL,
		attachment.MediaType,
		attachment.StoredPath,
		attachment.Filesize,
		nullInt64(attachment.TimestampReceived),
		attachment.TransferStatus,
	)
	if err != nil {
		return fmt.Errorf("save attachment for message %q: %w", attachment.MessageID, err)
	}

	return nil
}

// CompleteAttachment records where a downloaded attachment was stored.
func (s *Store) CompleteAttachment(messageID, url, storedPath string, filesize int64) error {
	if err := requireAttachmentKey(messageID, url); err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE attachments
		SET transfer_status = ?, stored_path = ?, filesize = ?, timestamp_received = ?
		WHERE message_id = ? AND url = ?`,
		TransferStatusComplete,
		storedPath,
		filesize,
		nowUnixMilli(),
		messageID,
		url,
	)
	if err != nil {
		return fmt.Errorf("complete attachment %q: %w", messageID, err)
	}
	return requireAffected(res, messageID)
}

// UpdateTransferStatus updates transfer_status for an attachment.
func (s *Store) UpdateTransferStatus(messageID, url, status string) error {
	if err := requireAttachmentKey(messageID, url); err != nil {
		return err
	}
	if err := validateTransferStatus(status); err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE attachments
		SET transfer_status = ?
		WHERE message_id = ? AND url = ?`,
		status,
		messageID,
		url,
	)
	if err != nil {
		return fmt.Errorf("update attachment transfer status %q: %w", messageID, err)
	}
	return requireAffected(res, messageID)
}

// GetAttachment fetches attachment metadata by message ID and URL.
func (s *Store) GetAttachment(messageID, url string) (*Attachment, error) {
	var attachment Attachment
	err := s.db.Get(
		&attachment,
		`SELECT
			message_id,
			url,
			media_type,
			stored_path,
			filesize,
			timestamp_received,
			transfer_status
		FROM attachments
		WHERE message_id = ? AND url = ?`,
		messageID,
		url,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get attachment %q: %w", messageID, err)
	}
	return &attachment, nil
}

func requireAttachmentKey(messageID, url string) error {
	if messageID == "" {
		return errors.New("message_id is required")
	}
	if url == "" {
		return errors.New("url is required")
	}
	return nil
}

func requireAffected(res sql.Result, id string) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for %q: %w", id, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
