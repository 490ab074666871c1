package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"xmppchat/config"
	"xmppchat/crypto"
	"xmppchat/download"
	"xmppchat/events"
	"xmppchat/muc"
	"xmppchat/pipeline"
	"xmppchat/stanza"
	"xmppchat/storage"
)

const usage = `usage:
  xmppchat                         read message stanzas from stdin
  xmppchat send <jid> <text>       send a chat message
  xmppchat send-group <room/nick> <text>
                                   join room as nick and send a group message
  xmppchat download <url> <msg-id> download an attachment held back by
                                   ask_before_downloading
  xmppchat focus [jid]             open the conversation with jid, or clear
                                   the focus when jid is omitted`

// app is the set of components one CLI invocation works with.
type app struct {
	handler   *pipeline.Handler
	rooms     *muc.Registry
	store     *storage.Store
	downloads *download.Manager
}

func main() {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		logrus.Fatalf("startup failed while loading config: %v", err)
	}
	configureLogging(cfg.LogLevel)

	if cfg.JID == "" {
		logrus.Fatalf("no account configured: set \"jid\" in %s or XMPPCHAT_JID", cfgPath)
	}

	device, err := crypto.EnsureOwnDevice(cfg.OmemoIdentityKeyPath)
	if err != nil {
		logrus.Fatalf("startup failed while preparing OMEMO identity: %v", err)
	}

	dataDir := filepath.Dir(cfgPath)
	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		logrus.Fatalf("startup failed while opening database: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logrus.Errorf("database close error: %v", err)
		}
	}()

	if err := syncOwnDevice(store, device); err != nil {
		logrus.Fatalf("startup failed while storing OMEMO device: %v", err)
	}
	if failed, err := store.FailStalePending(time.Now().UnixMilli()); err != nil {
		logrus.Warnf("could not fail stale pending messages: %v", err)
	} else if failed > 0 {
		logrus.Infof("marked %d unsent messages from a previous run as failed", failed)
	}

	fmt.Fprintf(os.Stderr, "Account:         %s\n", cfg.LocalJID())
	fmt.Fprintf(os.Stderr, "OMEMO Device:    %d\n", device.DeviceID)
	fmt.Fprintf(os.Stderr, "Fingerprint:     %s\n", crypto.FormatFingerprint(crypto.Fingerprint(device.PublicKey)))
	fmt.Fprintf(os.Stderr, "Config File:     %s\n", cfgPath)
	fmt.Fprintf(os.Stderr, "Database File:   %s\n", dbPath)

	settings := config.NewRuntime(*cfg, cfgPath)
	bus := events.NewBus()
	rooms := muc.NewRegistry()

	downloads, err := download.NewManager(download.Options{
		FilesDir: cfg.FilesDir,
		Store:    store,
		Events:   bus,
		Workers:  cfg.DownloadWorkers,
	})
	if err != nil {
		logrus.Fatalf("startup failed while creating download manager: %v", err)
	}
	downloads.Start()

	eventsCh, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()
	go logEvents(eventsCh)

	handler, err := pipeline.NewHandler(pipeline.Options{
		LocalJID:   cfg.LocalJID(),
		Transport:  newStreamTransport(os.Stdout),
		Store:      store,
		Downloader: downloads,
		Rooms:      rooms,
		Settings:   settings,
		Events:     bus,
	})
	if err != nil {
		downloads.Stop()
		logrus.Fatalf("startup failed while creating message pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A signal aborts in-flight downloads; a normal exit lets the queue drain.
	go func() {
		<-ctx.Done()
		downloads.Stop()
	}()

	a := &app{handler: handler, rooms: rooms, store: store, downloads: downloads}
	runErr := a.run(ctx, os.Args[1:])
	if ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "Status:          waiting for queued downloads")
		downloads.Close()
	}
	downloads.Stop()

	if runErr != nil {
		logrus.Errorf("%v", runErr)
		stop()
		_ = store.Close()
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return readStanzas(ctx, os.Stdin, a.handler)
	}

	switch args[0] {
	case "send":
		if len(args) != 3 {
			return errors.New(usage)
		}
		id, err := a.handler.SendChatMessage(args[1], args[2], "")
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Sent:            %s\n", id)
		return nil
	case "send-group":
		if len(args) != 3 || stanza.Resource(args[1]) == "" {
			return errors.New(usage)
		}
		return a.sendGroup(stanza.Bare(args[1]), stanza.Resource(args[1]), args[2])
	case "download":
		if len(args) != 3 {
			return errors.New(usage)
		}
		if err := a.downloads.DownloadFile(args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Queued:          %s\n", args[2])
		return nil
	case "focus":
		if len(args) > 2 {
			return errors.New(usage)
		}
		jid := ""
		if len(args) == 2 {
			jid = args[1]
		}
		return a.focus(jid)
	default:
		return errors.New(usage)
	}
}

func (a *app) sendGroup(roomJID, nickname, body string) error {
	if _, joined := a.rooms.Lookup(roomJID); !joined {
		if err := a.rooms.Join(roomJID, nickname); err != nil {
			return err
		}
		defer a.rooms.Leave(roomJID)
	}
	id, err := a.handler.SendGroupMessage(roomJID, body, "")
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Sent:            %s\n", id)
	return nil
}

// focus records the conversation the user is looking at and marks its latest
// incoming message as displayed. An empty jid clears the focus.
func (a *app) focus(jid string) error {
	bare := ""
	if jid != "" {
		if bare = stanza.Bare(jid); bare == "" {
			return fmt.Errorf("invalid jid %q", jid)
		}
	}
	if err := a.store.SetCurrentChatPartner(bare); err != nil {
		return err
	}
	if bare == "" {
		fmt.Fprintln(os.Stderr, "Focus:           none")
		return nil
	}

	sent, err := a.handler.Markers().SendDisplayedForJID(bare)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Focus:           %s (displayed marker sent: %t)\n", bare, sent)
	return nil
}

// readStanzas feeds every message stanza on r through the inbound pipeline
// until EOF or ctx is cancelled.
func readStanzas(ctx context.Context, r io.Reader, handler *pipeline.Handler) error {
	decoder := stanza.NewDecoder(r)
	done := make(chan error, 1)

	go func() {
		for {
			msg, err := decoder.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				done <- err
				return
			}

			outcome, err := handler.HandleStanza(msg)
			entry := logrus.WithFields(logrus.Fields{
				"from":    msg.From,
				"id":      msg.ID,
				"outcome": outcome.String(),
			})
			if err != nil {
				entry.WithField("error", err.Error()).Warn("Inbound stanza not fully processed")
				continue
			}
			entry.Debug("Inbound stanza processed")
		}
	}()

	fmt.Fprintln(os.Stderr, "Status:          reading stanzas from stdin (Ctrl+D to stop)")
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "Status:          shutting down")
		return nil
	}
}

func syncOwnDevice(store *storage.Store, device crypto.OwnDevice) error {
	data, err := store.OmemoAllData()
	if err != nil {
		return err
	}
	if data.OwnDevice != nil && data.OwnDevice.DeviceID == device.DeviceID {
		return nil
	}
	return store.SetOmemoOwnDevice(&storage.OmemoOwnDevice{
		DeviceID:           device.DeviceID,
		Label:              config.AppDirectoryName,
		PrivateIdentityKey: device.PrivateKey,
		PublicIdentityKey:  device.PublicKey,
	})
}

func configureLogging(level string) {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warnf("unknown log level %q, using %s", level, config.DefaultLogLevel)
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}

func logEvents(ch <-chan events.Event) {
	for event := range ch {
		entry := logrus.WithFields(logrus.Fields{
			"event":      event.Type,
			"message_id": event.MessageID,
		})
		switch event.Type {
		case events.TypeDownloadCompleted:
			entry.WithField("path", event.Path).Info("Attachment ready")
		case events.TypeDownloadFailed:
			entry.WithError(event.Err).Warn("Attachment download failed")
		default:
			entry.Debug("Event")
		}
	}
}
