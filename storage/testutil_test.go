package storage

import (
	"testing"

	"xmppchat/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustAddMessage(t *testing.T, store *Store, message models.Message) {
	t.Helper()

	if err := store.AddMessage(message); err != nil {
		t.Fatalf("add message %q: %v", message.ID, err)
	}
}
