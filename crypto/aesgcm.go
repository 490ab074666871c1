package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// AESGCMScheme is the XEP-0454 URI scheme for encrypted attachments.
	AESGCMScheme = "aesgcm"

	aes256KeySize   = 32
	gcmIVSize       = 12
	legacyGCMIVSize = 16
)

var (
	// ErrNotAESGCM indicates the URL does not use the aesgcm scheme.
	ErrNotAESGCM = errors.New("crypto: not an aesgcm URL")
	// ErrInvalidFragment indicates the URL fragment is not IV+key hex.
	ErrInvalidFragment = errors.New("crypto: invalid aesgcm key fragment")
)

// AttachmentKey is the decryption material carried in an aesgcm:// fragment.
type AttachmentKey struct {
	IV  []byte
	Key []byte
}

// IsAESGCMURL reports whether raw starts with the aesgcm:// scheme.
func IsAESGCMURL(raw string) bool {
	return strings.HasPrefix(strings.ToLower(raw), AESGCMScheme+"://")
}

// ParseAESGCMURL splits an aesgcm:// link into the https URL to fetch and the key material.
func ParseAESGCMURL(raw string) (string, AttachmentKey, error) {
	if !IsAESGCMURL(raw) {
		return "", AttachmentKey{}, ErrNotAESGCM
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", AttachmentKey{}, fmt.Errorf("parse aesgcm url: %w", err)
	}

	material, err := hex.DecodeString(parsed.Fragment)
	if err != nil {
		return "", AttachmentKey{}, ErrInvalidFragment
	}

	var ivSize int
	switch len(material) {
	case gcmIVSize + aes256KeySize:
		ivSize = gcmIVSize
	case legacyGCMIVSize + aes256KeySize:
		ivSize = legacyGCMIVSize
	default:
		return "", AttachmentKey{}, ErrInvalidFragment
	}

	parsed.Scheme = "https"
	parsed.Fragment = ""
	parsed.RawFragment = ""

	return parsed.String(), AttachmentKey{IV: material[:ivSize], Key: material[ivSize:]}, nil
}

// DecryptAttachment decrypts an AES-256-GCM attachment body (ciphertext followed by tag).
func DecryptAttachment(key AttachmentKey, ciphertext []byte) ([]byte, error) {
	if len(key.Key) != aes256KeySize {
		return nil, fmt.Errorf("invalid attachment key length: got %d want %d", len(key.Key), aes256KeySize)
	}
	if len(ciphertext) == 0 {
		return nil, errors.New("ciphertext is required")
	}

	block, err := aes.NewCipher(key.Key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, len(key.IV))
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	plaintext, err := aead.Open(nil, key.IV, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt attachment: %w", err)
	}

	return plaintext, nil
}

// SealAttachment encrypts plaintext with a fresh key and returns the ciphertext
// plus the hex fragment to append to the aesgcm:// link.
func SealAttachment(plaintext []byte) ([]byte, string, error) {
	material := make([]byte, gcmIVSize+aes256KeySize)
	if _, err := rand.Read(material); err != nil {
		return nil, "", fmt.Errorf("generate attachment key: %w", err)
	}
	key := AttachmentKey{IV: material[:gcmIVSize], Key: material[gcmIVSize:]}

	block, err := aes.NewCipher(key.Key)
	if err != nil {
		return nil, "", fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, "", fmt.Errorf("create GCM: %w", err)
	}

	return aead.Seal(nil, key.IV, plaintext, nil), hex.EncodeToString(material), nil
}
