package pipeline

import (
	"errors"
	"time"

	"xmppchat/config"
	"xmppchat/events"
	"xmppchat/models"
	"xmppchat/muc"
	"xmppchat/stanza"
	"xmppchat/storage"
)

var (
	// ErrMalformedStanza marks stanzas without usable content. They are dropped.
	ErrMalformedStanza = errors.New("pipeline: malformed stanza")
	// ErrUnresolvableDestination aborts sends to rooms the account has not joined.
	ErrUnresolvableDestination = errors.New("pipeline: destination room not joined")
)

// Transport hands stanzas to the XMPP connection.
type Transport interface {
	Send(msg *stanza.Message) error
	// SendSensitive sends through the end-to-end encryption layer.
	SendSensitive(msg *stanza.Message) error
}

// MessageStore persists history and delivery state.
type MessageStore interface {
	AddMessage(message models.Message) error
	CurrentChatPartner() (string, error)
	LatestIncoming(conversationJID string) (*storage.Message, error)
	MarkDelivered(conversationJID, messageID string) error
	UpdateDeliveryStatus(conversationJID, messageID, status string) error
}

// Downloader fetches attachments asynchronously.
type Downloader interface {
	RequestDownload(request models.DownloadRequest)
}

// RoomDirectory lists the rooms the account currently occupies.
type RoomDirectory interface {
	RoomsJoined() []muc.Room
}

// Options configures a Handler.
type Options struct {
	// LocalJID is the account's full JID.
	LocalJID   string
	Transport  Transport
	Store      MessageStore
	Downloader Downloader
	Rooms      RoomDirectory
	Settings   *config.Runtime
	Events     *events.Bus

	// Now defaults to time.Now.
	Now func() time.Time
}

// Handler runs the inbound and outbound message pipelines.
type Handler struct {
	options Options
	markers *Markers
}

// NewHandler validates options and builds a handler.
func NewHandler(options Options) (*Handler, error) {
	if stanza.Bare(options.LocalJID) == "" {
		return nil, errors.New("a valid local jid is required")
	}
	if options.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if options.Store == nil {
		return nil, errors.New("store is required")
	}
	if options.Downloader == nil {
		return nil, errors.New("downloader is required")
	}
	if options.Rooms == nil {
		return nil, errors.New("room directory is required")
	}
	if options.Settings == nil {
		return nil, errors.New("settings are required")
	}
	if options.Events == nil {
		options.Events = events.NewBus()
	}
	if options.Now == nil {
		options.Now = time.Now
	}

	return &Handler{
		options: options,
		markers: NewMarkers(options.LocalJID, options.Transport, options.Store, options.Settings),
	}, nil
}

// Markers returns the chat marker component used by the handler.
func (h *Handler) Markers() *Markers {
	return h.markers
}

// Events returns the bus the handler publishes to.
func (h *Handler) Events() *events.Bus {
	return h.options.Events
}

func (h *Handler) localBareJID() string {
	return stanza.Bare(h.options.LocalJID)
}
