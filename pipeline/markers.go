package pipeline

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"xmppchat/config"
	"xmppchat/stanza"
	"xmppchat/storage"
)

// Markers sends and applies XEP-0184 receipts and XEP-0333 displayed markers.
type Markers struct {
	localJID  string
	transport Transport
	store     MessageStore
	settings  *config.Runtime
}

// NewMarkers builds the marker component. Handler constructs one itself.
func NewMarkers(localJID string, transport Transport, store MessageStore, settings *config.Runtime) *Markers {
	return &Markers{
		localJID:  localJID,
		transport: transport,
		store:     store,
		settings:  settings,
	}
}

// SendDisplayedForJID marks the newest incoming message of a conversation as
// displayed and tells the peer. It reports whether a marker was sent.
func (m *Markers) SendDisplayedForJID(jid string) (bool, error) {
	if !m.settings.SendReadNotifications() {
		return false, nil
	}

	conversation := stanza.Bare(jid)
	latest, err := m.store.LatestIncoming(conversation)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("latest incoming message for %q: %w", conversation, err)
	}
	if latest.DeliveryStatus == storage.DeliveryStatusDisplayed {
		return false, nil
	}

	msg := &stanza.Message{
		Type:      stanza.TypeChat,
		To:        conversation,
		ID:        NewOutboundID(),
		Displayed: &stanza.Marker{ID: latest.ID},
	}
	if latest.IsGroup {
		msg.Type = stanza.TypeGroupChat
	}
	if err := m.transport.Send(msg); err != nil {
		return false, fmt.Errorf("send displayed marker for %q: %w", latest.ID, err)
	}

	if err := m.store.UpdateDeliveryStatus(conversation, latest.ID, storage.DeliveryStatusDisplayed); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "SendDisplayedForJID",
			"conversation": conversation,
			"message_id":   latest.ID,
			"error":        err.Error(),
		}).Warn("Displayed marker sent but local status not updated")
	}
	return true, nil
}

// SendReceipt acknowledges delivery of messageID to the full JID it came from.
func (m *Markers) SendReceipt(to, messageID string) error {
	if to == "" || messageID == "" {
		return errors.New("receipt recipient and message id are required")
	}

	msg := &stanza.Message{
		Type:     stanza.TypeChat,
		To:       to,
		ID:       NewOutboundID(),
		Received: &stanza.Receipt{ID: messageID},
	}
	if err := m.transport.Send(msg); err != nil {
		return fmt.Errorf("send receipt for %q: %w", messageID, err)
	}
	return nil
}

// HandleMarker applies a delivery receipt or displayed marker carried by msg.
// It reports whether msg carried one.
func (m *Markers) HandleMarker(msg *stanza.Message) bool {
	fields := logrus.Fields{
		"function": "HandleMarker",
		"from":     msg.From,
		"to":       msg.To,
	}

	applied := false
	if msg.Received != nil && msg.Received.ID != "" {
		applied = true
		conversation := stanza.Bare(msg.From)
		if err := m.store.MarkDelivered(conversation, msg.Received.ID); err != nil {
			logMarkerError(fields, msg.Received.ID, err)
		}
	}

	if msg.Displayed != nil && msg.Displayed.ID != "" {
		applied = true
		// A displayed marker from our own account was sent by another of our
		// devices and refers to a message in the conversation it was sent to.
		conversation := stanza.Bare(msg.From)
		if stanza.BareEqual(msg.From, m.localJID) {
			conversation = stanza.Bare(msg.To)
		}
		if err := m.store.UpdateDeliveryStatus(conversation, msg.Displayed.ID, storage.DeliveryStatusDisplayed); err != nil {
			logMarkerError(fields, msg.Displayed.ID, err)
		}
	}

	return applied
}

func logMarkerError(fields logrus.Fields, messageID string, err error) {
	entry := logrus.WithFields(fields).WithField("message_id", messageID)
	if errors.Is(err, storage.ErrNotFound) {
		entry.Debug("Marker references unknown message")
		return
	}
	entry.WithField("error", err.Error()).Warn("Failed to apply marker")
}
