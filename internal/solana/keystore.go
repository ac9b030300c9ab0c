package solana

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mr-tron/base58"
)

// Keypair is an ed25519 signing credential in the chain's native format.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  string
}

// PublicKey returns the base58-encoded public key.
func (k *Keypair) PublicKey() string { return k.pub }

// Sign signs the message with the private key.
func (k *Keypair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, message), nil
}

// NewKeypairFromBytes builds a keypair from the 64-byte id.json format.
func NewKeypairFromBytes(raw []byte) (*Keypair, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	pub := base58.Encode(priv.Public().(ed25519.PublicKey))
	return &Keypair{priv: priv, pub: pub}, nil
}

// Keystore loads signing keys from a directory of <address>.json files in
// the standard CLI wallet format (a JSON array of 64 byte values). Loaded
// keys are cached for the process lifetime.
type Keystore struct {
	dir string

	mu   sync.Mutex
	keys map[string]*Keypair
}

// NewKeystore builds a keystore over the given directory.
func NewKeystore(dir string) *Keystore {
	return &Keystore{dir: dir, keys: make(map[string]*Keypair)}
}

// Get returns the keypair for an address, loading it on first use. The
// loaded key's public key must match the requested address.
func (s *Keystore) Get(address string) (*Keypair, error) {
	s.mu.Lock()
	cached, ok := s.keys[address]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	path := filepath.Join(s.dir, address+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no wallet for address %s: %w", address, err)
	}

	// the CLI format is a JSON array of numbers, which encoding/json will
	// not decode into []byte directly
	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("wallet file %s: %w", path, err)
	}
	bytes := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("wallet file %s: byte value %d out of range", path, v)
		}
		bytes[i] = byte(v)
	}
	keypair, err := NewKeypairFromBytes(bytes)
	if err != nil {
		return nil, fmt.Errorf("wallet file %s: %w", path, err)
	}
	if keypair.PublicKey() != address {
		return nil, fmt.Errorf("wallet file %s holds key for %s, not %s", path, keypair.PublicKey(), address)
	}

	s.mu.Lock()
	s.keys[address] = keypair
	s.mu.Unlock()
	return keypair, nil
}
