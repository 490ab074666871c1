package storage

import (
	"errors"
	"testing"
)

func TestAttachmentLifecycle(t *testing.T) {
	store := newTestStore(t)
	const url = "aesgcm://h/f.jpg#abcd"

	if err := store.SaveAttachment(Attachment{
		MessageID: "msg-1",
		URL:       url,
		MediaType: "image/jpeg",
	}); err != nil {
		t.Fatalf("SaveAttachment failed: %v", err)
	}

	pending, err := store.GetAttachment("msg-1", url)
	if err != nil {
		t.Fatalf("GetAttachment failed: %v", err)
	}
	if pending.TransferStatus != TransferStatusPending {
		t.Fatalf("expected pending attachment, got %q", pending.TransferStatus)
	}
	if pending.URL != url {
		t.Fatalf("expected URL to be stored verbatim, got %q", pending.URL)
	}

	if err := store.CompleteAttachment("msg-1", url, "/tmp/f.jpg", 42); err != nil {
		t.Fatalf("CompleteAttachment failed: %v", err)
	}
	done, err := store.GetAttachment("msg-1", url)
	if err != nil {
		t.Fatalf("GetAttachment after complete failed: %v", err)
	}
	if done.TransferStatus != TransferStatusComplete || done.StoredPath != "/tmp/f.jpg" || done.Filesize != 42 {
		t.Fatalf("unexpected completed attachment: %+v", done)
	}
	if done.TimestampReceived == nil {
		t.Fatalf("expected received timestamp to be set")
	}

	if err := store.UpdateTransferStatus("missing", url, TransferStatusFailed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateTransferStatus("msg-1", url, "bogus"); err == nil {
		t.Fatalf("expected invalid status error")
	}
	if err := store.UpdateTransferStatus("msg-1", "", TransferStatusFailed); err == nil {
		t.Fatalf("expected missing url error")
	}
	if _, err := store.GetAttachment("missing", url); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAttachmentsWithSameMessageIDStaySeparate(t *testing.T) {
	store := newTestStore(t)
	const carolURL = "https://h/carol/a.jpg"
	const bobURL = "https://h/bob/b.jpg"

	for _, url := range []string{carolURL, bobURL} {
		if err := store.SaveAttachment(Attachment{MessageID: "1", URL: url, MediaType: "image/jpeg"}); err != nil {
			t.Fatalf("SaveAttachment(%q) failed: %v", url, err)
		}
	}
	if err := store.CompleteAttachment("1", carolURL, "/files/carol.jpg", 11); err != nil {
		t.Fatalf("CompleteAttachment failed: %v", err)
	}
	if err := store.UpdateTransferStatus("1", bobURL, TransferStatusFailed); err != nil {
		t.Fatalf("UpdateTransferStatus failed: %v", err)
	}

	carol, err := store.GetAttachment("1", carolURL)
	if err != nil {
		t.Fatalf("GetAttachment(carol) failed: %v", err)
	}
	bob, err := store.GetAttachment("1", bobURL)
	if err != nil {
		t.Fatalf("GetAttachment(bob) failed: %v", err)
	}
	if carol.TransferStatus != TransferStatusComplete || carol.StoredPath != "/files/carol.jpg" {
		t.Fatalf("unexpected carol attachment: %+v", carol)
	}
	if bob.TransferStatus != TransferStatusFailed || bob.StoredPath != "" {
		t.Fatalf("unexpected bob attachment: %+v", bob)
	}
}
