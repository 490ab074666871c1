package pipeline

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"xmppchat/config"
	"xmppchat/events"
	"xmppchat/models"
	"xmppchat/muc"
	"xmppchat/stanza"
	"xmppchat/storage"
)

const testLocalJID = "alice@example.org/phone"

var testNow = time.UnixMilli(1700000000123)

type fakeTransport struct {
	mu        sync.Mutex
	sent      []*stanza.Message
	sensitive []*stanza.Message
	err       error
}

func (f *fakeTransport) Send(msg *stanza.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) SendSensitive(msg *stanza.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sensitive = append(f.sensitive, msg)
	return nil
}

func (f *fakeTransport) all() []*stanza.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(append([]*stanza.Message(nil), f.sent...), f.sensitive...)
}

type statusUpdate struct {
	conversation string
	id           string
	status       string
}

type fakeStore struct {
	mu        sync.Mutex
	messages  []models.Message
	partner   string
	latest    map[string]*storage.Message
	statuses  []statusUpdate
	delivered []statusUpdate
	addErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{latest: make(map[string]*storage.Message)}
}

func (f *fakeStore) AddMessage(message models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	for _, existing := range f.messages {
		if existing.ID == message.ID && strings.EqualFold(existing.ConversationJID, message.ConversationJID) {
			return storage.ErrDuplicateMessage
		}
	}
	f.messages = append(f.messages, message)
	if message.Direction == models.DirectionIncoming {
		key := strings.ToLower(message.ConversationJID)
		f.latest[key] = &storage.Message{Message: message, DeliveryStatus: storage.DeliveryStatusReceived}
	}
	return nil
}

func (f *fakeStore) CurrentChatPartner() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.partner, nil
}

func (f *fakeStore) LatestIncoming(conversationJID string) (*storage.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest, ok := f.latest[strings.ToLower(conversationJID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (f *fakeStore) MarkDelivered(conversationJID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, statusUpdate{conversationJID, messageID, storage.DeliveryStatusDelivered})
	return nil
}

func (f *fakeStore) UpdateDeliveryStatus(conversationJID, messageID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusUpdate{conversationJID, messageID, status})
	if latest, ok := f.latest[strings.ToLower(conversationJID)]; ok && latest.ID == messageID {
		latest.DeliveryStatus = status
	}
	return nil
}

func (f *fakeStore) stored() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.messages...)
}

type fakeDownloader struct {
	mu       sync.Mutex
	requests []models.DownloadRequest
}

func (f *fakeDownloader) RequestDownload(request models.DownloadRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request)
}

type fakeRooms []muc.Room

func (f fakeRooms) RoomsJoined() []muc.Room {
	return f
}

type testHarness struct {
	handler    *Handler
	transport  *fakeTransport
	store      *fakeStore
	downloader *fakeDownloader
	settings   *config.Runtime
	bus        *events.Bus
}

func newTestHarness(t *testing.T, settings config.Settings, rooms ...muc.Room) *testHarness {
	t.Helper()

	h := &testHarness{
		transport:  &fakeTransport{},
		store:      newFakeStore(),
		downloader: &fakeDownloader{},
		settings:   config.NewRuntime(settings, ""),
		bus:        events.NewBus(),
	}
	handler, err := NewHandler(Options{
		LocalJID:   testLocalJID,
		Transport:  h.transport,
		Store:      h.store,
		Downloader: h.downloader,
		Rooms:      fakeRooms(rooms),
		Settings:   h.settings,
		Events:     h.bus,
		Now:        func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	h.handler = handler
	return h
}

var errTransportDown = errors.New("transport down")
