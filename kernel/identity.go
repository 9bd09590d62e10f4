package kernel

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

const identityKeyFilename = "kernel_identity_ed25519"

// Identity is the kernel's signing keypair, used to sign the ready
// handshake AttachBridge broadcasts once a bridge is attached so a client can
// verify it is talking to the kernel instance it expects (generalised from
// the teacher's per-sandbox SSH host-key generation in boxer.go, which
// exists to give each sandbox a stable SSH identity; here the same keypair
// machinery signs bridge handshakes instead of terminating SSH sessions).
type Identity struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// Sign produces a detached ed25519 signature over data.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.private, data)
}

// loadOrCreateIdentity loads the kernel's keypair from dataDir, generating
// and persisting a new one on first boot.
func loadOrCreateIdentity(dataDir string) (*Identity, error) {
	idPath := filepath.Join(dataDir, identityKeyFilename)

	if pemBytes, err := os.ReadFile(idPath); err == nil {
		priv, err := decodePrivateKeyPEM(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("kernel: decode identity key: %w", err)
		}
		return &Identity{Public: priv.Public().(ed25519.PublicKey), private: priv}, nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("kernel: generate identity key: %w", err)
	}

	pkBytes, err := ssh.MarshalPrivateKey(priv, "sandkernel identity")
	if err != nil {
		return nil, fmt.Errorf("kernel: marshal identity key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(pkBytes)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("kernel: create data dir: %w", err)
	}
	if err := os.WriteFile(idPath, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("kernel: write identity key: %w", err)
	}

	return &Identity{Public: pub, private: priv}, nil
}

func decodePrivateKeyPEM(data []byte) (ed25519.PrivateKey, error) {
	raw, err := ssh.ParseRawPrivateKey(data)
	if err != nil {
		return nil, err
	}
	priv, ok := raw.(*ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("kernel: identity key is not ed25519")
	}
	return *priv, nil
}
