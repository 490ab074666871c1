package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDBFileName is the SQLite filename under app data dir.
	DefaultDBFileName = "history.db"
	// DefaultWALCheckpointInterval controls periodic WAL truncation.
	DefaultWALCheckpointInterval = 24 * time.Hour
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS messages (
  conversation_jid TEXT NOT NULL,
  message_id       TEXT NOT NULL,
  sender_resource  TEXT NOT NULL DEFAULT '',
  body             TEXT NOT NULL,
  media_type       TEXT NOT NULL DEFAULT 'txt',
  direction        INTEGER NOT NULL CHECK(direction IN (0, 1)),
  is_group         INTEGER NOT NULL DEFAULT 0,
  security         INTEGER NOT NULL CHECK(security IN (0, 1)) DEFAULT 0,
  timestamp        INTEGER NOT NULL,
  delivery_status  TEXT NOT NULL CHECK(delivery_status IN ('pending','sent','delivered','displayed','received','failed')),
  PRIMARY KEY (conversation_jid, message_id)
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_conversation_time
ON messages (conversation_jid, timestamp);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_status_time
ON messages (delivery_status, timestamp);
`,
	`
CREATE TABLE IF NOT EXISTS attachments (
  message_id         TEXT PRIMARY KEY,
  url                TEXT NOT NULL,
  media_type         TEXT NOT NULL,
  stored_path        TEXT NOT NULL DEFAULT '',
  filesize           INTEGER NOT NULL DEFAULT 0,
  timestamp_received INTEGER,
  transfer_status    TEXT NOT NULL CHECK(transfer_status IN ('pending','complete','failed')) DEFAULT 'pending'
);
`,
	`
CREATE TABLE IF NOT EXISTS ui_state (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS omemo_own_device (
  id                       INTEGER PRIMARY KEY CHECK(id = 1),
  device_id                INTEGER NOT NULL,
  label                    TEXT NOT NULL DEFAULT '',
  private_identity_key     BLOB NOT NULL,
  public_identity_key      BLOB NOT NULL,
  latest_signed_pre_key_id INTEGER NOT NULL DEFAULT 1,
  latest_pre_key_id        INTEGER NOT NULL DEFAULT 1
);
`,
	`
CREATE TABLE IF NOT EXISTS omemo_signed_pre_keys (
  key_id        INTEGER PRIMARY KEY,
  data          BLOB NOT NULL,
  creation_date INTEGER NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS omemo_pre_keys (
  key_id INTEGER PRIMARY KEY,
  data   BLOB NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS omemo_devices (
  jid                           TEXT NOT NULL,
  device_id                     INTEGER NOT NULL,
  label                         TEXT NOT NULL DEFAULT '',
  key_id                        BLOB,
  session                       BLOB,
  unresponded_sent_stanzas      INTEGER NOT NULL DEFAULT 0,
  unresponded_received_stanzas  INTEGER NOT NULL DEFAULT 0,
  removal_from_device_list_date INTEGER,
  PRIMARY KEY (jid, device_id)
);
`,
	`
CREATE TABLE attachments_by_url (
  message_id         TEXT NOT NULL,
  url                TEXT NOT NULL,
  media_type         TEXT NOT NULL,
  stored_path        TEXT NOT NULL DEFAULT '',
  filesize           INTEGER NOT NULL DEFAULT 0,
  timestamp_received INTEGER,
  transfer_status    TEXT NOT NULL CHECK(transfer_status IN ('pending','complete','failed')) DEFAULT 'pending',
  PRIMARY KEY (message_id, url)
);
INSERT INTO attachments_by_url
  SELECT message_id, url, media_type, stored_path, filesize, timestamp_received, transfer_status
  FROM attachments;
DROP TABLE attachments;
ALTER TABLE attachments_by_url RENAME TO attachments;
`,
}

// Store is a thin wrapper around a SQLite connection.
type Store struct {
	db *sqlx.DB

	walCheckpointInterval time.Duration
	walCheckpointStop     chan struct{}
	walCheckpointWG       sync.WaitGroup
	closeOnce             sync.Once
}

// Open opens (or creates) history.db under the given data directory and runs migrations.
func Open(dataDir string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}

	return store, dbPath, nil
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	store := &Store{
		db:                    db,
		walCheckpointInterval: DefaultWALCheckpointInterval,
		walCheckpointStop:     make(chan struct{}),
	}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.checkpointWAL(); err != nil {
		_ = db.Close()
		return nil, err
	}
	store.startWALCheckpointLoop()

	return store, nil
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		if s.walCheckpointStop != nil {
			close(s.walCheckpointStop)
			s.walCheckpointWG.Wait()
		}
		closeErr = s.db.Close()
		s.db = nil
	})
	return closeErr
}

func (s *Store) applyMigrations() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}

	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}

	return nil
}

func (s *Store) schemaVersion() (int, error) {
	var version int
	if err := s.db.Get(&version, "PRAGMA user_version;"); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.Get(&journalMode, "PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

func (s *Store) checkpointWAL() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("wal checkpoint truncate: %w", err)
	}
	return nil
}

func (s *Store) startWALCheckpointLoop() {
	interval := s.walCheckpointInterval
	if interval <= 0 || s.walCheckpointStop == nil {
		return
	}

	s.walCheckpointWG.Add(1)
	go func() {
		defer s.walCheckpointWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.checkpointWAL()
			case <-s.walCheckpointStop:
				return
			}
		}
	}()
}
