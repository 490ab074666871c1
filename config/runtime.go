package config

import (
	"errors"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"xmppchat/stanza"
)

// Runtime holds the live settings read by the message pipeline.
//
// The download and app-active flags are plain atomics; everything else is
// guarded by mu. Setters persist to config.json when a path is configured.
type Runtime struct {
	askBeforeDownloading atomic.Bool
	appActive            atomic.Bool

	mu        sync.RWMutex
	settings  Settings
	plainText map[string]struct{}
	path      string
}

// NewRuntime wraps settings. An empty path disables persistence of changes.
func NewRuntime(settings Settings, path string) *Runtime {
	r := &Runtime{
		settings:  settings,
		plainText: make(map[string]struct{}, len(settings.SendPlainText)),
		path:      path,
	}
	for _, jid := range settings.SendPlainText {
		r.plainText[normalizeJID(jid)] = struct{}{}
	}
	r.askBeforeDownloading.Store(settings.AskBeforeDownloading)
	r.appActive.Store(true)
	return r
}

// AskBeforeDownloading reports whether attachments wait for an explicit user request.
func (r *Runtime) AskBeforeDownloading() bool {
	return r.askBeforeDownloading.Load()
}

// SetAskBeforeDownloading updates and persists the download policy.
func (r *Runtime) SetAskBeforeDownloading(ask bool) error {
	r.askBeforeDownloading.Store(ask)
	return r.update(func(s *Settings) { s.AskBeforeDownloading = ask })
}

// AppActive reports whether the application is in the foreground.
func (r *Runtime) AppActive() bool {
	return r.appActive.Load()
}

// SetAppActive records foreground state. It is not persisted.
func (r *Runtime) SetAppActive(active bool) {
	r.appActive.Store(active)
}

// OmemoEnabled reports whether OMEMO is globally enabled.
func (r *Runtime) OmemoEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings.OmemoEnabled
}

// SetOmemoEnabled toggles OMEMO globally.
func (r *Runtime) SetOmemoEnabled(enabled bool) error {
	return r.update(func(s *Settings) { s.OmemoEnabled = enabled })
}

// SendReadNotifications reports whether displayed markers may be sent.
func (r *Runtime) SendReadNotifications() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings.SendReadNotifications
}

// SetSendReadNotifications toggles displayed markers.
func (r *Runtime) SetSendReadNotifications(enabled bool) error {
	return r.update(func(s *Settings) { s.SendReadNotifications = enabled })
}

// ForcePlainText reports whether jid is in the plain-text override set.
func (r *Runtime) ForcePlainText(jid string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plainText[normalizeJID(jid)]
	return ok
}

// SetForcePlainText adds or removes jid from the plain-text override set.
func (r *Runtime) SetForcePlainText(jid string, force bool) error {
	key := normalizeJID(jid)
	if key == "" {
		return nil
	}
	return r.update(func(s *Settings) {
		if force {
			r.plainText[key] = struct{}{}
		} else {
			delete(r.plainText, key)
		}
		list := make([]string, 0, len(r.plainText))
		for jid := range r.plainText {
			list = append(list, jid)
		}
		sort.Strings(list)
		s.SendPlainText = list
	})
}

// Snapshot returns a copy of the current settings.
func (r *Runtime) Snapshot() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := r.settings
	snapshot.SendPlainText = append([]string(nil), r.settings.SendPlainText...)
	snapshot.AskBeforeDownloading = r.askBeforeDownloading.Load()
	return snapshot
}

// update applies a change to the effective settings and to the settings
// stored in config.json. The file copy is re-read so values that only came
// from environment overrides never end up on disk.
func (r *Runtime) update(apply func(*Settings)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	apply(&r.settings)

	if r.path == "" {
		return nil
	}
	fields := logrus.Fields{
		"function": "Runtime.update",
		"path":     r.path,
	}

	persisted, err := Load(r.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logrus.WithFields(fields).WithField("error", err.Error()).Warn("Failed to read settings before persisting change")
			return err
		}
		snapshot := r.settings
		snapshot.SendPlainText = append([]string(nil), r.settings.SendPlainText...)
		persisted = &snapshot
	}
	apply(persisted)
	persisted.AskBeforeDownloading = r.askBeforeDownloading.Load()

	if err := Save(r.path, persisted); err != nil {
		logrus.WithFields(fields).WithField("error", err.Error()).Warn("Failed to persist settings change")
		return err
	}
	return nil
}

func normalizeJID(jid string) string {
	return strings.ToLower(stanza.Bare(strings.TrimSpace(jid)))
}
