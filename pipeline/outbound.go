package pipeline

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"xmppchat/models"
	"xmppchat/muc"
	"xmppchat/stanza"
	"xmppchat/storage"
)

// SendChatMessage composes, persists and sends a 1:1 message. It returns the
// new message id.
func (h *Handler) SendChatMessage(to, body, mediaType string) (string, error) {
	if stanza.Bare(to) == "" {
		return "", errors.New("recipient jid is required")
	}
	if body == "" {
		return "", errors.New("message body is required")
	}
	mediaType = normalizeMediaType(mediaType)

	msg := h.compose(stanza.TypeChat, to, body)
	path := ChoosePath(stanza.Bare(to), false, mediaType, h.options.Settings.OmemoEnabled(), h.options.Settings)
	path.Encode(msg)

	record := models.Message{
		ID:              msg.ID,
		ConversationJID: stanza.Bare(to),
		SenderResource:  stanza.Resource(to),
		Body:            body,
		MediaType:       mediaType,
		Direction:       models.DirectionOutgoing,
		Security:        path.Security,
	}
	return h.persistAndSend(msg, record, path.Security == models.SecurityEncrypted)
}

// SendGroupMessage composes, persists and sends a message to a joined room.
// Rooms that are not joined yield ErrUnresolvableDestination before anything
// is stored or sent.
func (h *Handler) SendGroupMessage(roomJID, body, mediaType string) (string, error) {
	if stanza.Bare(roomJID) == "" {
		return "", errors.New("room jid is required")
	}
	if body == "" {
		return "", errors.New("message body is required")
	}
	mediaType = normalizeMediaType(mediaType)

	room, ok := h.joinedRoom(roomJID)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "SendGroupMessage",
			"room":     roomJID,
		}).Warn("Refusing to send to a room that is not joined")
		return "", fmt.Errorf("%w: %s", ErrUnresolvableDestination, roomJID)
	}

	msg := h.compose(stanza.TypeGroupChat, room.JID, body)
	path := ChoosePath(room.JID, true, mediaType, h.options.Settings.OmemoEnabled(), h.options.Settings)
	path.Encode(msg)

	record := models.Message{
		ID:              msg.ID,
		ConversationJID: room.JID,
		SenderResource:  room.Nickname,
		Body:            body,
		MediaType:       mediaType,
		Direction:       models.DirectionOutgoing,
		IsGroup:         true,
		Security:        path.Security,
	}
	return h.persistAndSend(msg, record, path.Security == models.SecurityEncrypted)
}

func (h *Handler) compose(messageType, to, body string) *stanza.Message {
	id := NewOutboundID()
	msg := &stanza.Message{
		Type:     messageType,
		To:       to,
		ID:       id,
		Body:     body,
		OriginID: &stanza.StanzaID{ID: id},
	}
	msg.SetReceiptRequested(true)
	msg.SetMarkable(true)
	return msg
}

func (h *Handler) joinedRoom(roomJID string) (muc.Room, bool) {
	for _, room := range h.options.Rooms.RoomsJoined() {
		if stanza.BareEqual(room.JID, roomJID) {
			return room, true
		}
	}
	return muc.Room{}, false
}

func (h *Handler) persistAndSend(msg *stanza.Message, record models.Message, sensitive bool) (string, error) {
	fields := logrus.Fields{
		"function":   "persistAndSend",
		"to":         msg.To,
		"message_id": msg.ID,
		"security":   record.Security.String(),
		"media_type": record.MediaType,
	}

	if err := h.options.Store.AddMessage(record); err != nil {
		return "", fmt.Errorf("persist outgoing message %q: %w", msg.ID, err)
	}

	send := h.options.Transport.Send
	if sensitive {
		send = h.options.Transport.SendSensitive
	}
	if err := send(msg); err != nil {
		if statusErr := h.options.Store.UpdateDeliveryStatus(record.ConversationJID, msg.ID, storage.DeliveryStatusFailed); statusErr != nil {
			logrus.WithFields(fields).WithField("error", statusErr.Error()).Warn("Failed to mark message as failed")
		}
		return msg.ID, fmt.Errorf("send message %q: %w", msg.ID, err)
	}

	if err := h.options.Store.UpdateDeliveryStatus(record.ConversationJID, msg.ID, storage.DeliveryStatusSent); err != nil {
		logrus.WithFields(fields).WithField("error", err.Error()).Warn("Failed to mark message as sent")
	}
	h.options.Events.MessageSent(msg.ID)
	logrus.WithFields(fields).Debug("Message sent")
	return msg.ID, nil
}

func normalizeMediaType(mediaType string) string {
	if mediaType == "" {
		return models.MediaTypeText
	}
	return mediaType
}
