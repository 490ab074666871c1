package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

const (
	identityPEMType    = "OMEMO IDENTITY KEY"
	deviceIDPEMHeader  = "Device-Id"
	maxOMEMODeviceID   = 1<<31 - 1
	fingerprintGroupSz = 8
)

// OwnDevice is the local OMEMO device: its id and long-term identity key pair.
type OwnDevice struct {
	DeviceID   uint32
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

// EnsureOwnDevice loads the local OMEMO device from disk, generating it on first run.
func EnsureOwnDevice(path string) (OwnDevice, error) {
	device, err := LoadOwnDevice(path)
	if err == nil {
		return device, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return OwnDevice{}, err
	}

	device, err = GenerateOwnDevice()
	if err != nil {
		return OwnDevice{}, err
	}
	if err := SaveOwnDevice(path, device); err != nil {
		return OwnDevice{}, err
	}
	return device, nil
}

// GenerateOwnDevice creates a device with a random non-zero 31-bit id.
func GenerateOwnDevice() (OwnDevice, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return OwnDevice{}, fmt.Errorf("generate identity key pair: %w", err)
	}

	var raw [4]byte
	var deviceID uint32
	for deviceID == 0 {
		if _, err := rand.Read(raw[:]); err != nil {
			return OwnDevice{}, fmt.Errorf("generate device id: %w", err)
		}
		deviceID = binary.BigEndian.Uint32(raw[:]) & maxOMEMODeviceID
	}

	return OwnDevice{DeviceID: deviceID, PrivateKey: privateKey, PublicKey: publicKey}, nil
}

// LoadOwnDevice reads the device PEM written by SaveOwnDevice.
func LoadOwnDevice(path string) (OwnDevice, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return OwnDevice{}, fmt.Errorf("read identity key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return OwnDevice{}, fmt.Errorf("decode identity PEM: no PEM block")
	}
	if block.Type != identityPEMType {
		return OwnDevice{}, fmt.Errorf("decode identity PEM: unexpected type %q", block.Type)
	}
	if len(block.Bytes) != ed25519.PrivateKeySize {
		return OwnDevice{}, fmt.Errorf("decode identity PEM: invalid key size %d", len(block.Bytes))
	}
	deviceID, err := strconv.ParseUint(block.Headers[deviceIDPEMHeader], 10, 32)
	if err != nil || deviceID == 0 {
		return OwnDevice{}, fmt.Errorf("decode identity PEM: invalid device id %q", block.Headers[deviceIDPEMHeader])
	}

	privateKey := ed25519.PrivateKey(block.Bytes)
	return OwnDevice{
		DeviceID:   uint32(deviceID),
		PrivateKey: privateKey,
		PublicKey:  privateKey.Public().(ed25519.PublicKey),
	}, nil
}

// SaveOwnDevice writes the device PEM file with 0600 permissions.
func SaveOwnDevice(path string, device OwnDevice) error {
	if len(device.PrivateKey) != ed25519.PrivateKeySize {
		return fmt.Errorf("save identity key: invalid key size %d", len(device.PrivateKey))
	}

	block := &pem.Block{
		Type:    identityPEMType,
		Headers: map[string]string{deviceIDPEMHeader: strconv.FormatUint(uint64(device.DeviceID), 10)},
		Bytes:   device.PrivateKey,
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("write identity key: %w", err)
	}

	return nil
}

// Fingerprint returns the hex fingerprint of an identity public key.
func Fingerprint(publicKey ed25519.PublicKey) string {
	return hex.EncodeToString(publicKey)
}

// FormatFingerprint returns fingerprint text grouped in chunks of 8 lowercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToLower(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += fingerprintGroupSz {
		if i > 0 {
			b.WriteByte(' ')
		}

		end := i + fingerprintGroupSz
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}

	return b.String()
}
