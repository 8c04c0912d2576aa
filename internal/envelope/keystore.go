package envelope

import (
	"bufio"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/hkdf"
)

const (
	MasterKeySize  = 32
	DerivedKeySize = 16
)

// hkdfInfo binds derived keys to the envelope format. Changing it breaks
// every deployed edge node.
var hkdfInfo = []byte("edgepolicy-envelope-v1")

var (
	ErrKeyFileMissing = errors.New("key file missing")
	ErrMalformedKey   = errors.New("malformed master key")
)

// KeyStore holds the pre-shared master key source and the derived envelope
// key. The derived key is computed on first use and reused for the life of
// the process; concurrent first callers all observe the single derivation.
type KeyStore struct {
	source string
	load   func() ([]byte, error)

	once        sync.Once
	key         []byte
	aead        cipher.AEAD
	err         error
	derivations atomic.Int32
}

// NewKeyStore reads the master key from a LABEL=<hex> file. An empty label
// accepts any label.
func NewKeyStore(path, label string) *KeyStore {
	ks := &KeyStore{source: path}
	ks.load = func() ([]byte, error) {
		return LoadKeyFile(path, label)
	}
	return ks
}

func NewKeyStoreFromMaster(master []byte) *KeyStore {
	cp := append([]byte(nil), master...)
	return &KeyStore{
		source: "memory",
		load: func() ([]byte, error) {
			if len(cp) != MasterKeySize {
				return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedKey, len(cp), MasterKeySize)
			}
			return cp, nil
		},
	}
}

// Key returns the derived envelope key. The returned slice must not be
// modified.
func (k *KeyStore) Key() ([]byte, error) {
	k.once.Do(k.initializeKey)
	return k.key, k.err
}

// Preload forces derivation so key problems surface at startup.
func (k *KeyStore) Preload() error {
	_, err := k.Key()
	return err
}

func (k *KeyStore) Source() string {
	return k.source
}

func (k *KeyStore) cipher() (cipher.AEAD, error) {
	k.once.Do(k.initializeKey)
	return k.aead, k.err
}

func (k *KeyStore) initializeKey() {
	k.derivations.Add(1)
	master, err := k.load()
	if err != nil {
		k.err = err
		return
	}
	derived, err := DeriveKey(master)
	if err != nil {
		k.err = err
		return
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		k.err = fmt.Errorf("init block cipher: %w", err)
		return
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		k.err = fmt.Errorf("init aead: %w", err)
		return
	}
	k.key = derived
	k.aead = aead
}

// DeriveKey runs HKDF-SHA256 over the master key with no salt.
func DeriveKey(master []byte) ([]byte, error) {
	if len(master) != MasterKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedKey, len(master), MasterKeySize)
	}
	out := make([]byte, DerivedKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, hkdfInfo), out); err != nil {
		return nil, fmt.Errorf("hkdf derive: %w", err)
	}
	return out, nil
}

func LoadKeyFile(path, label string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyFileMissing, path)
		}
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	master, err := ParseKeyFile(data, label)
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	return master, nil
}

// ParseKeyFile extracts the master key from the first LABEL=<64 hex> line.
// Blank lines and lines starting with # are skipped.
func ParseKeyFile(data []byte, label string) ([]byte, error) {
	s := bufio.NewScanner(bytes.NewReader(data))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: expected LABEL=<hex>", ErrMalformedKey)
		}
		name = strings.TrimSpace(name)
		if label != "" && name != label {
			return nil, fmt.Errorf("%w: label %q, want %q", ErrMalformedKey, name, label)
		}
		value = strings.TrimSpace(value)
		if len(value) != MasterKeySize*2 {
			return nil, fmt.Errorf("%w: key must be %d hex chars, got %d", ErrMalformedKey, MasterKeySize*2, len(value))
		}
		master, err := hex.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
		return master, nil
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan key file: %w", err)
	}
	return nil, fmt.Errorf("%w: no key line found", ErrMalformedKey)
}

// FormatKeyLine renders a master key in key file form.
func FormatKeyLine(label string, master []byte) string {
	return label + "=" + hex.EncodeToString(master) + "\n"
}
