package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// OmemoOwnDevice is the local OMEMO device record.
type OmemoOwnDevice struct {
	DeviceID             uint32 `db:"device_id"`
	Label                string `db:"label"`
	PrivateIdentityKey   []byte `db:"private_identity_key"`
	PublicIdentityKey    []byte `db:"public_identity_key"`
	LatestSignedPreKeyID uint32 `db:"latest_signed_pre_key_id"`
	LatestPreKeyID       uint32 `db:"latest_pre_key_id"`
}

// OmemoSignedPreKeyPair is a signed pre-key pair with its creation time (unix millis).
type OmemoSignedPreKeyPair struct {
	KeyID        uint32 `db:"key_id"`
	Data         []byte `db:"data"`
	CreationDate int64  `db:"creation_date"`
}

// OmemoDevice is a remote (or own other) device known for a JID.
type OmemoDevice struct {
	JID                        string `db:"jid"`
	DeviceID                   uint32 `db:"device_id"`
	Label                      string `db:"label"`
	KeyID                      []byte `db:"key_id"`
	Session                    []byte `db:"session"`
	UnrespondedSentStanzas     int    `db:"unresponded_sent_stanzas"`
	UnrespondedReceivedStanzas int    `db:"unresponded_received_stanzas"`
	RemovalFromDeviceListDate  *int64 `db:"removal_from_device_list_date"`
}

// OmemoData is everything the OMEMO manager loads at startup.
type OmemoData struct {
	OwnDevice         *OmemoOwnDevice
	SignedPreKeyPairs map[uint32]OmemoSignedPreKeyPair
	PreKeyPairs       map[uint32][]byte
	Devices           map[string]map[uint32]OmemoDevice
}

type preKeyRow struct {
	KeyID uint32 `db:"key_id"`
	Data  []byte `db:"data"`
}

// OmemoAllData loads the complete OMEMO state.
func (s *Store) OmemoAllData() (*OmemoData, error) {
	data := &OmemoData{
		SignedPreKeyPairs: make(map[uint32]OmemoSignedPreKeyPair),
		PreKeyPairs:       make(map[uint32][]byte),
		Devices:           make(map[string]map[uint32]OmemoDevice),
	}

	var own OmemoOwnDevice
	err := s.db.Get(&own, `SELECT
		device_id, label, private_identity_key, public_identity_key,
		latest_signed_pre_key_id, latest_pre_key_id
		FROM omemo_own_device WHERE id = 1`)
	switch {
	case err == nil:
		data.OwnDevice = &own
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("load omemo own device: %w", err)
	}

	var signed []OmemoSignedPreKeyPair
	if err := s.db.Select(&signed, `SELECT key_id, data, creation_date FROM omemo_signed_pre_keys`); err != nil {
		return nil, fmt.Errorf("load omemo signed pre keys: %w", err)
	}
	for _, pair := range signed {
		data.SignedPreKeyPairs[pair.KeyID] = pair
	}

	var preKeys []preKeyRow
	if err := s.db.Select(&preKeys, `SELECT key_id, data FROM omemo_pre_keys`); err != nil {
		return nil, fmt.Errorf("load omemo pre keys: %w", err)
	}
	for _, pair := range preKeys {
		data.PreKeyPairs[pair.KeyID] = pair.Data
	}

	var devices []OmemoDevice
	if err := s.db.Select(&devices, `SELECT
		jid, device_id, label, key_id, session,
		unresponded_sent_stanzas, unresponded_received_stanzas, removal_from_device_list_date
		FROM omemo_devices`); err != nil {
		return nil, fmt.Errorf("load omemo devices: %w", err)
	}
	for _, device := range devices {
		if data.Devices[device.JID] == nil {
			data.Devices[device.JID] = make(map[uint32]OmemoDevice)
		}
		data.Devices[device.JID][device.DeviceID] = device
	}

	return data, nil
}

// SetOmemoOwnDevice stores the own device, or removes it when device is nil.
func (s *Store) SetOmemoOwnDevice(device *OmemoOwnDevice) error {
	if device == nil {
		if _, err := s.db.Exec(`DELETE FROM omemo_own_device`); err != nil {
			return fmt.Errorf("remove omemo own device: %w", err)
		}
		return nil
	}
	if device.DeviceID == 0 {
		return errors.New("device_id is required")
	}

	_, err := s.db.NamedExec(
		`INSERT INTO omemo_own_device (
			id, device_id, label, private_identity_key, public_identity_key,
			latest_signed_pre_key_id, latest_pre_key_id
		) VALUES (1, :device_id, :label, :private_identity_key, :public_identity_key,
			:latest_signed_pre_key_id, :latest_pre_key_id)
		ON CONFLICT(id) DO UPDATE SET
			device_id = excluded.device_id,
			label = excluded.label,
			private_identity_key = excluded.private_identity_key,
			public_identity_key = excluded.public_identity_key,
			latest_signed_pre_key_id = excluded.latest_signed_pre_key_id,
			latest_pre_key_id = excluded.latest_pre_key_id`,
		device,
	)
	if err != nil {
		return fmt.Errorf("set omemo own device: %w", err)
	}
	return nil
}

// AddOmemoSignedPreKeyPair inserts or replaces a signed pre-key pair.
func (s *Store) AddOmemoSignedPreKeyPair(pair OmemoSignedPreKeyPair) error {
	if len(pair.Data) == 0 {
		return errors.New("signed pre key data is required")
	}
	if pair.CreationDate == 0 {
		pair.CreationDate = nowUnixMilli()
	}

	_, err := s.db.NamedExec(
		`INSERT OR REPLACE INTO omemo_signed_pre_keys (key_id, data, creation_date)
		VALUES (:key_id, :data, :creation_date)`,
		pair,
	)
	if err != nil {
		return fmt.Errorf("add omemo signed pre key %d: %w", pair.KeyID, err)
	}
	return nil
}

// RemoveOmemoSignedPreKeyPair deletes a signed pre-key pair.
func (s *Store) RemoveOmemoSignedPreKeyPair(keyID uint32) error {
	if _, err := s.db.Exec(`DELETE FROM omemo_signed_pre_keys WHERE key_id = ?`, keyID); err != nil {
		return fmt.Errorf("remove omemo signed pre key %d: %w", keyID, err)
	}
	return nil
}

// AddOmemoPreKeyPairs inserts or replaces pre-key pairs in one transaction.
func (s *Store) AddOmemoPreKeyPairs(pairs map[uint32][]byte) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin pre key transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for keyID, data := range pairs {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO omemo_pre_keys (key_id, data) VALUES (?, ?)`,
			keyID,
			data,
		); err != nil {
			return fmt.Errorf("add omemo pre key %d: %w", keyID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pre key transaction: %w", err)
	}
	return nil
}

// RemoveOmemoPreKeyPair deletes one pre-key pair.
func (s *Store) RemoveOmemoPreKeyPair(keyID uint32) error {
	if _, err := s.db.Exec(`DELETE FROM omemo_pre_keys WHERE key_id = ?`, keyID); err != nil {
		return fmt.Errorf("remove omemo pre key %d: %w", keyID, err)
	}
	return nil
}

// AddOmemoDevice inserts or updates a device of jid.
func (s *Store) AddOmemoDevice(device OmemoDevice) error {
	if device.JID == "" {
		return errors.New("jid is required")
	}
	device.JID = strings.ToLower(device.JID)

	_, err := s.db.NamedExec(
		`INSERT INTO omemo_devices (
			jid, device_id, label, key_id, session,
			unresponded_sent_stanzas, unresponded_received_stanzas, removal_from_device_list_date
		) VALUES (:jid, :device_id, :label, :key_id, :session,
			:unresponded_sent_stanzas, :unresponded_received_stanzas, :removal_from_device_list_date)
		ON CONFLICT(jid, device_id) DO UPDATE SET
			label = excluded.label,
			key_id = excluded.key_id,
			session = excluded.session,
			unresponded_sent_stanzas = excluded.unresponded_sent_stanzas,
			unresponded_received_stanzas = excluded.unresponded_received_stanzas,
			removal_from_device_list_date = excluded.removal_from_device_list_date`,
		device,
	)
	if err != nil {
		return fmt.Errorf("add omemo device %s/%d: %w", device.JID, device.DeviceID, err)
	}
	return nil
}

// RemoveOmemoDevice deletes one device of jid.
func (s *Store) RemoveOmemoDevice(jid string, deviceID uint32) error {
	if _, err := s.db.Exec(
		`DELETE FROM omemo_devices WHERE jid = ? AND device_id = ?`,
		strings.ToLower(jid),
		deviceID,
	); err != nil {
		return fmt.Errorf("remove omemo device %s/%d: %w", jid, deviceID, err)
	}
	return nil
}

// RemoveOmemoDevices deletes every device of jid.
func (s *Store) RemoveOmemoDevices(jid string) error {
	if _, err := s.db.Exec(`DELETE FROM omemo_devices WHERE jid = ?`, strings.ToLower(jid)); err != nil {
		return fmt.Errorf("remove omemo devices of %s: %w", jid, err)
	}
	return nil
}

// ResetOmemo wipes all OMEMO state.
func (s *Store) ResetOmemo() error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin omemo reset: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, table := range []string{"omemo_own_device", "omemo_signed_pre_keys", "omemo_pre_keys", "omemo_devices"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit omemo reset: %w", err)
	}
	return nil
}
