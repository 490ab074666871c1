package storage

import (
	"errors"
	"testing"

	"xmppchat/models"
)

func TestMessageCRUD(t *testing.T) {
	store := newTestStore(t)

	oldSent := nowUnixMilli() - 10_000
	newSent := nowUnixMilli()

	mustAddMessage(t, store, models.Message{
		ID:              "msg-old",
		ConversationJID: "alice@example.org",
		SenderResource:  "laptop",
		Body:            "old pending message",
		Direction:       models.DirectionOutgoing,
		Timestamp:       oldSent,
	})
	mustAddMessage(t, store, models.Message{
		ID:              "msg-new",
		ConversationJID: "alice@example.org",
		Body:            "new message",
		Direction:       models.DirectionOutgoing,
		Security:        models.SecurityEncrypted,
		Timestamp:       newSent,
	})
	mustAddMessage(t, store, models.Message{
		ID:              "msg-reply",
		ConversationJID: "Alice@Example.org",
		SenderResource:  "phone",
		Body:            "https://h/cat.jpg",
		MediaType:       "image/jpeg",
		Direction:       models.DirectionIncoming,
		Timestamp:       newSent + 1,
	})

	conversation, err := store.GetMessages("alice@example.org", 10, 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(conversation) != 3 {
		t.Fatalf("expected 3 conversation messages, got %d", len(conversation))
	}
	if conversation[0].ID != "msg-old" || conversation[1].ID != "msg-new" {
		t.Fatalf("messages are not ordered by timestamp ascending")
	}
	if conversation[0].MediaType != models.MediaTypeText {
		t.Fatalf("expected default media type, got %q", conversation[0].MediaType)
	}
	if conversation[0].DeliveryStatus != DeliveryStatusPending {
		t.Fatalf("expected outgoing message to start pending, got %q", conversation[0].DeliveryStatus)
	}
	if conversation[1].Security != models.SecurityEncrypted {
		t.Fatalf("expected encrypted security level, got %v", conversation[1].Security)
	}
	if conversation[2].DeliveryStatus != DeliveryStatusReceived || conversation[2].Direction != models.DirectionIncoming {
		t.Fatalf("unexpected incoming message state: %+v", conversation[2])
	}

	if err := store.UpdateDeliveryStatus("alice@example.org", "msg-new", DeliveryStatusSent); err != nil {
		t.Fatalf("UpdateDeliveryStatus failed: %v", err)
	}
	if err := store.MarkDelivered("alice@example.org", "msg-new"); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}
	marked, err := store.GetMessageByID("alice@example.org", "msg-new")
	if err != nil {
		t.Fatalf("GetMessageByID failed: %v", err)
	}
	if marked.DeliveryStatus != DeliveryStatusDelivered {
		t.Fatalf("expected msg-new to be delivered, got %q", marked.DeliveryStatus)
	}

	if err := store.UpdateDeliveryStatus("alice@example.org", "msg-new", DeliveryStatusDisplayed); err != nil {
		t.Fatalf("UpdateDeliveryStatus displayed failed: %v", err)
	}
	if err := store.MarkDelivered("alice@example.org", "msg-new"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected late receipt not to downgrade displayed message, got %v", err)
	}

	latest, err := store.LatestIncoming("alice@example.org")
	if err != nil {
		t.Fatalf("LatestIncoming failed: %v", err)
	}
	if latest.ID != "msg-reply" {
		t.Fatalf("expected msg-reply as latest incoming, got %q", latest.ID)
	}

	failed, err := store.FailStalePending(nowUnixMilli() - 5_000)
	if err != nil {
		t.Fatalf("FailStalePending failed: %v", err)
	}
	if failed != 1 {
		t.Fatalf("expected 1 failed row, got %d", failed)
	}
}

func TestAddMessageRejectsDuplicateWithinConversation(t *testing.T) {
	store := newTestStore(t)

	message := models.Message{
		ID:              "dup-1",
		ConversationJID: "alice@example.org",
		Body:            "hello",
		Direction:       models.DirectionIncoming,
	}
	mustAddMessage(t, store, message)

	if err := store.AddMessage(message); !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("expected ErrDuplicateMessage, got %v", err)
	}

	message.ConversationJID = "bob@example.org"
	mustAddMessage(t, store, message)
}

func TestAddMessageValidation(t *testing.T) {
	store := newTestStore(t)

	cases := []models.Message{
		{ConversationJID: "a@b", Body: "x"},
		{ID: "1", Body: "x"},
		{ID: "1", ConversationJID: "a@b"},
		{ID: "1", ConversationJID: "a@b", Body: "x", Direction: 7},
		{ID: "1", ConversationJID: "a@b", Body: "x", Security: 3},
	}
	for i, message := range cases {
		if err := store.AddMessage(message); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestCurrentChatPartner(t *testing.T) {
	store := newTestStore(t)

	partner, err := store.CurrentChatPartner()
	if err != nil {
		t.Fatalf("CurrentChatPartner failed: %v", err)
	}
	if partner != "" {
		t.Fatalf("expected no chat partner, got %q", partner)
	}

	if err := store.SetCurrentChatPartner("Alice@Example.org"); err != nil {
		t.Fatalf("SetCurrentChatPartner failed: %v", err)
	}
	partner, err = store.CurrentChatPartner()
	if err != nil {
		t.Fatalf("CurrentChatPartner failed: %v", err)
	}
	if partner != "alice@example.org" {
		t.Fatalf("unexpected chat partner %q", partner)
	}
}
