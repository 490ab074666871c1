// Package download fetches message attachments in the background and records
// them in the attachment table.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"xmppchat/crypto"
	"xmppchat/events"
	"xmppchat/models"
	"xmppchat/storage"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
	defaultMaxBytes  = 100 << 20
	defaultTimeout   = 2 * time.Minute
)

var (
	// ErrQueueFull is returned when the download queue cannot take another request.
	ErrQueueFull = errors.New("download: queue full")
	// ErrStopped is returned after Stop or Close.
	ErrStopped = errors.New("download: manager stopped")
	// ErrTooLarge is returned for attachments above the configured size limit.
	ErrTooLarge = errors.New("download: attachment too large")
)

// Store is the attachment persistence used by the manager.
type Store interface {
	SaveAttachment(attachment storage.Attachment) error
	GetAttachment(messageID, url string) (*storage.Attachment, error)
	CompleteAttachment(messageID, url, storedPath string, filesize int64) error
	UpdateTransferStatus(messageID, url, status string) error
}

// Options configures a Manager.
type Options struct {
	FilesDir string
	Store    Store
	Events   *events.Bus

	// Workers defaults to 2.
	Workers int
	// QueueSize defaults to 64.
	QueueSize int
	// MaxBytes caps a single attachment. Defaults to 100 MiB.
	MaxBytes int64
	// Client defaults to an http.Client with a two minute timeout.
	Client *http.Client
}

// Manager is a bounded pool of attachment download workers.
type Manager struct {
	options Options
	queue   chan models.DownloadRequest

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once

	queueMu sync.RWMutex
	closed  bool

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewManager validates options. Call Start before requesting downloads.
func NewManager(options Options) (*Manager, error) {
	if options.FilesDir == "" {
		return nil, errors.New("files directory is required")
	}
	if options.Store == nil {
		return nil, errors.New("attachment store is required")
	}
	if options.Events == nil {
		options.Events = events.NewBus()
	}
	if options.Workers <= 0 {
		options.Workers = defaultWorkers
	}
	if options.QueueSize <= 0 {
		options.QueueSize = defaultQueueSize
	}
	if options.MaxBytes <= 0 {
		options.MaxBytes = defaultMaxBytes
	}
	if options.Client == nil {
		options.Client = &http.Client{Timeout: defaultTimeout}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		options:  options,
		queue:    make(chan models.DownloadRequest, options.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]struct{}),
	}, nil
}

// Start launches the workers. Calling it again is a no-op.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		for i := 0; i < m.options.Workers; i++ {
			m.wg.Add(1)
			go m.worker()
		}
	})
}

// Stop cancels in-flight downloads and waits for the workers to exit.
// Queued requests are abandoned.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
	})
}

// Close stops accepting requests and waits until the workers have finished
// everything already queued. A later Stop still aborts the drain.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.queueMu.Lock()
		m.closed = true
		close(m.queue)
		m.queueMu.Unlock()
	})
	m.wg.Wait()
}

// RequestDownload queues an automatic download. It never blocks; requests
// that cannot be queued are logged and reported as failed.
func (m *Manager) RequestDownload(request models.DownloadRequest) {
	if err := m.enqueue(request); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "RequestDownload",
			"message_id": request.MessageID,
			"error":      err.Error(),
		}).Warn("Attachment download not queued")
		m.options.Events.Publish(events.Event{Type: events.TypeDownloadFailed, MessageID: request.MessageID, Err: err})
	}
}

// DownloadFile queues a download the user asked for explicitly.
func (m *Manager) DownloadFile(rawURL, messageID string) error {
	return m.enqueue(models.DownloadRequest{URL: rawURL, MessageID: messageID})
}

func (m *Manager) enqueue(request models.DownloadRequest) error {
	if request.URL == "" {
		return errors.New("download url is required")
	}
	if request.MessageID == "" {
		return errors.New("message id is required")
	}

	m.queueMu.RLock()
	defer m.queueMu.RUnlock()
	if m.closed || m.ctx.Err() != nil {
		return ErrStopped
	}

	select {
	case m.queue <- request:
		return nil
	default:
		return ErrQueueFull
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case request, ok := <-m.queue:
			if !ok || m.ctx.Err() != nil {
				return
			}
			m.process(request)
		}
	}
}

func (m *Manager) process(request models.DownloadRequest) {
	key := attachmentKey(request)
	if !m.claim(key) {
		return
	}
	defer m.release(key)

	fields := logrus.Fields{
		"function":   "process",
		"message_id": request.MessageID,
	}

	if existing, err := m.options.Store.GetAttachment(request.MessageID, request.URL); err == nil &&
		existing.TransferStatus == storage.TransferStatusComplete && fileExists(existing.StoredPath) {
		logrus.WithFields(fields).Debug("Attachment already downloaded")
		m.options.Events.DownloadCompleted(request.MessageID, existing.StoredPath)
		return
	}

	filename := filenameFromURL(request.URL)
	if err := m.options.Store.SaveAttachment(storage.Attachment{
		MessageID:      request.MessageID,
		URL:            request.URL,
		MediaType:      models.MediaTypeForFilename(filename),
		TransferStatus: storage.TransferStatusPending,
	}); err != nil {
		m.fail(request, fields, err)
		return
	}

	finalPath := filepath.Join(m.options.FilesDir, prefixedFilename(key, filename))
	size, err := m.fetch(request.URL, finalPath)
	if err != nil {
		m.fail(request, fields, err)
		return
	}

	if err := m.options.Store.CompleteAttachment(request.MessageID, request.URL, finalPath, size); err != nil {
		m.fail(request, fields, err)
		return
	}

	fields["path"] = finalPath
	fields["size"] = size
	logrus.WithFields(fields).Info("Attachment downloaded")
	m.options.Events.DownloadCompleted(request.MessageID, finalPath)
}

// fetch downloads rawURL into finalPath, decrypting aesgcm:// links.
func (m *Manager) fetch(rawURL, finalPath string) (int64, error) {
	fetchURL := rawURL
	var key *crypto.AttachmentKey
	if crypto.IsAESGCMURL(rawURL) {
		httpsURL, attachmentKey, err := crypto.ParseAESGCMURL(rawURL)
		if err != nil {
			return 0, err
		}
		fetchURL = httpsURL
		key = &attachmentKey
	} else if err := requireHTTP(rawURL); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(m.ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := m.options.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("get attachment: unexpected status %s", resp.Status)
	}
	if resp.ContentLength > m.options.MaxBytes {
		return 0, ErrTooLarge
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, m.options.MaxBytes+1))
	if err != nil {
		return 0, fmt.Errorf("read attachment: %w", err)
	}
	if int64(len(payload)) > m.options.MaxBytes {
		return 0, ErrTooLarge
	}

	if key != nil {
		payload, err = crypto.DecryptAttachment(*key, payload)
		if err != nil {
			return 0, err
		}
	}

	if err := writeFileAtomic(finalPath, payload); err != nil {
		return 0, err
	}
	return int64(len(payload)), nil
}

func (m *Manager) fail(request models.DownloadRequest, fields logrus.Fields, err error) {
	logrus.WithFields(fields).WithField("error", err.Error()).Warn("Attachment download failed")
	if statusErr := m.options.Store.UpdateTransferStatus(request.MessageID, request.URL, storage.TransferStatusFailed); statusErr != nil &&
		!errors.Is(statusErr, storage.ErrNotFound) {
		logrus.WithFields(fields).WithField("error", statusErr.Error()).Warn("Failed to mark attachment as failed")
	}
	m.options.Events.Publish(events.Event{Type: events.TypeDownloadFailed, MessageID: request.MessageID, Err: err})
}

func (m *Manager) claim(key string) bool {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()
	if _, busy := m.inflight[key]; busy {
		return false
	}
	m.inflight[key] = struct{}{}
	return true
}

func (m *Manager) release(key string) {
	m.inflightMu.Lock()
	delete(m.inflight, key)
	m.inflightMu.Unlock()
}

// attachmentKey identifies one attachment of one message. Message ids are
// only unique within a conversation, so the URL takes part in the key.
func attachmentKey(request models.DownloadRequest) string {
	sum := sha256.Sum256([]byte(request.MessageID + "\n" + request.URL))
	return hex.EncodeToString(sum[:8])
}

func requireHTTP(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse attachment url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return nil
	default:
		return fmt.Errorf("unsupported attachment url scheme %q", parsed.Scheme)
	}
}

func writeFileAtomic(finalPath string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o700); err != nil {
		return fmt.Errorf("create files directory: %w", err)
	}
	tempPath := finalPath + ".part"
	if err := os.WriteFile(tempPath, payload, 0o600); err != nil {
		return fmt.Errorf("write attachment: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("finalize attachment: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func filenameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(parsed.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func prefixedFilename(key, filename string) string {
	base := filepath.Base(filename)
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "file.bin"
	}
	safeKey := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, key)
	return safeKey + "_" + base
}
