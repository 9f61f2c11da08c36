// Package encryption manages the Ed25519 key pair that identifies a node on
// the libp2p transport.
package encryption

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// IdentityFile is the file name of the key inside a node data directory.
const IdentityFile = "identity.key"

type IdentityInfo struct {
	PrivateKey crypto.PrivKey
	PublicKey  crypto.PubKey
	PeerID     peer.ID
}

func GenerateIdentity() (*IdentityInfo, error) {
	priv, pub, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, 2048, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return newIdentityInfo(priv, pub)
}

func newIdentityInfo(priv crypto.PrivKey, pub crypto.PubKey) (*IdentityInfo, error) {
	peerID, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("derive peer id: %w", err)
	}
	return &IdentityInfo{
		PrivateKey: priv,
		PublicKey:  pub,
		PeerID:     peerID,
	}, nil
}

// SaveIdentity writes the private key to path, creating parent directories.
func SaveIdentity(identity *IdentityInfo, path string) error {
	data, err := crypto.MarshalPrivateKey(identity.PrivateKey)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func LoadIdentity(path string) (*IdentityInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	priv, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return newIdentityInfo(priv, priv.GetPublic())
}

// LoadOrCreate returns the identity stored in dataDir, generating and saving
// a new one when none exists. A file that exists but cannot be decoded is an
// error rather than being replaced.
func LoadOrCreate(dataDir string) (info *IdentityInfo, created bool, err error) {
	path := IdentityPath(dataDir)

	info, err = LoadIdentity(path)
	if err == nil {
		return info, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	info, err = GenerateIdentity()
	if err != nil {
		return nil, false, err
	}
	if err := SaveIdentity(info, path); err != nil {
		return nil, false, fmt.Errorf("save identity: %w", err)
	}
	return info, true, nil
}

// IdentityPath expands environment variables and a leading ~ in dataDir.
func IdentityPath(dataDir string) string {
	dir := os.ExpandEnv(dataDir)
	if strings.HasPrefix(dir, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[1:])
		}
	}
	return filepath.Join(dir, IdentityFile)
}
