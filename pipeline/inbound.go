package pipeline

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"xmppchat/events"
	"xmppchat/models"
	"xmppchat/stanza"
	"xmppchat/storage"
)

// Outcome is the terminal state of one inbound stanza.
type Outcome int

const (
	// OutcomeDropped means nothing was stored and no side effect ran.
	OutcomeDropped Outcome = iota
	// OutcomePersisted means the message was handed to the store.
	OutcomePersisted
	// OutcomeReceiptDispatched means the message was stored and a displayed marker was sent.
	OutcomeReceiptDispatched
	// OutcomeMarkerApplied means the stanza only carried a receipt or chat marker.
	OutcomeMarkerApplied
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDropped:
		return "dropped"
	case OutcomePersisted:
		return "persisted"
	case OutcomeReceiptDispatched:
		return "receipt_dispatched"
	case OutcomeMarkerApplied:
		return "marker_applied"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// HandleStanza routes receipts and chat markers, then runs the inbound
// pipeline for anything with a body. XEP-0280 carbons are unwrapped when they
// come from the local account; carbons from anyone else are dropped.
func (h *Handler) HandleStanza(msg *stanza.Message) (Outcome, error) {
	if msg == nil || msg.Type == stanza.TypeError {
		return OutcomeDropped, nil
	}

	if inner, sent, ok := msg.Carbon(); ok {
		// A missing from means the stanza came from our own account.
		if msg.From != "" && (!stanza.BareEqual(msg.From, h.localBareJID()) || stanza.Resource(msg.From) != "") {
			logrus.WithFields(logrus.Fields{
				"function": "HandleStanza",
				"from":     msg.From,
			}).Warn("Dropping carbon not sent by our own server")
			return OutcomeDropped, nil
		}
		logrus.WithFields(logrus.Fields{
			"function": "HandleStanza",
			"sent":     sent,
			"id":       inner.ID,
		}).Debug("Unwrapped carbon copy")
		return h.route(inner, true)
	}
	return h.route(msg, false)
}

func (h *Handler) route(msg *stanza.Message, carbon bool) (Outcome, error) {
	if msg.Type == stanza.TypeError {
		return OutcomeDropped, nil
	}
	applied := h.markers.HandleMarker(msg)
	if applied && msg.Body == "" {
		return OutcomeMarkerApplied, nil
	}
	return h.handleMessage(msg, carbon)
}

// HandleMessage runs one inbound message through classification, persistence
// and side effects. The returned error only reports a persistence failure;
// the displayed marker is attempted regardless.
func (h *Handler) HandleMessage(msg *stanza.Message) (Outcome, error) {
	return h.handleMessage(msg, false)
}

func (h *Handler) handleMessage(msg *stanza.Message, carbon bool) (Outcome, error) {
	if msg == nil {
		return OutcomeDropped, nil
	}

	stamp, stamped := msg.Stamp()
	class := Classify(stanza.Bare(msg.From), h.localBareJID(), msg.Type, stamped)

	fields := logrus.Fields{
		"function": "HandleMessage",
		"from":     msg.From,
		"to":       msg.To,
		"type":     msg.Type,
		"id":       msg.ID,
	}

	if class.IsHistoryReplay {
		logrus.WithFields(fields).Debug("Dropping group chat history replay")
		return OutcomeDropped, nil
	}
	if msg.Body == "" {
		logrus.WithFields(fields).WithField("reason", ErrMalformedStanza.Error()).Debug("Dropping message without body")
		return OutcomeDropped, nil
	}

	counterpart := msg.From
	direction := models.DirectionIncoming
	if class.IsSelfCarbon {
		counterpart = msg.To
		direction = models.DirectionOutgoing
	}
	if stanza.Bare(counterpart) == "" {
		logrus.WithFields(fields).WithField("reason", ErrMalformedStanza.Error()).Debug("Dropping message without a valid conversation JID")
		return OutcomeDropped, nil
	}

	attachment := ResolveAttachment(msg.Body, msg.OutOfBandURL())
	messageID := ResolveID(msg.ID, msg.AlternateID(), h.options.Now())

	if attachment.HasURL() && !h.options.Settings.AskBeforeDownloading() {
		h.options.Downloader.RequestDownload(models.DownloadRequest{
			URL:       attachment.URL,
			MessageID: messageID,
		})
	}

	record := models.Message{
		ID:              messageID,
		ConversationJID: stanza.Bare(counterpart),
		SenderResource:  stanza.Resource(counterpart),
		Body:            msg.Body,
		MediaType:       attachment.MediaType,
		Direction:       direction,
		IsGroup:         msg.Type == stanza.TypeGroupChat,
		Security:        SecurityFromEncryption(msg.EncryptionMethod()),
	}
	if stamped {
		record.Timestamp = stamp.UnixMilli()
	}

	fields["message_id"] = messageID
	fields["direction"] = record.Direction.String()
	fields["security"] = record.Security.String()
	fields["media_type"] = record.MediaType

	var persistErr error
	if err := h.options.Store.AddMessage(record); err != nil {
		if errors.Is(err, storage.ErrDuplicateMessage) {
			logrus.WithFields(fields).Debug("Message already stored")
		} else {
			persistErr = fmt.Errorf("persist message %q: %w", messageID, err)
			logrus.WithFields(fields).WithField("error", err.Error()).Error("Failed to persist message")
		}
	} else {
		logrus.WithFields(fields).Debug("Message stored")
		h.options.Events.Publish(events.Event{Type: events.TypeMessageStored, MessageID: messageID})
	}

	// Carbons were delivered to another of our devices, which acknowledges them.
	if !carbon && !class.IsSelfCarbon && msg.Type != stanza.TypeGroupChat && msg.ReceiptRequested() && msg.ID != "" {
		if err := h.markers.SendReceipt(msg.From, msg.ID); err != nil {
			logrus.WithFields(fields).WithField("error", err.Error()).Warn("Failed to send delivery receipt")
		}
	}

	outcome := OutcomePersisted
	if h.dispatchDisplayed(record.ConversationJID, fields) {
		outcome = OutcomeReceiptDispatched
	}
	return outcome, persistErr
}

func (h *Handler) dispatchDisplayed(conversationJID string, fields logrus.Fields) bool {
	if !h.options.Settings.AppActive() {
		return false
	}

	partner, err := h.options.Store.CurrentChatPartner()
	if err != nil {
		logrus.WithFields(fields).WithField("error", err.Error()).Warn("Failed to read current chat partner")
		return false
	}
	if partner == "" || !stanza.BareEqual(partner, conversationJID) {
		return false
	}

	sent, err := h.markers.SendDisplayedForJID(partner)
	if err != nil {
		logrus.WithFields(fields).WithField("error", err.Error()).Warn("Failed to send displayed marker")
		return false
	}
	return sent
}
