package sshkeys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

// keyComment is appended to the authorized_keys line so the key is
// identifiable on the remote host.
const keyComment = "zonekit"

// generateMu serializes key generation across concurrent runs in this
// process. Runs in separate processes are expected to use separate key
// paths; cross-process locking is deliberately not provided.
var generateMu sync.Mutex

// KeyPair represents a persisted SSH key pair
type KeyPair struct {
	PrivateKeyPath string
	PublicKeyPath  string
	PublicKey      string
}

// Ensure makes sure a usable key pair exists at the given paths and returns
// it. Idempotent: an existing pair is reused untouched. If either half is
// missing, both are regenerated so the pair invariant holds. Safe under
// concurrent invocation: the existence check is repeated after taking the
// generation lock, so exactly one caller generates and the rest observe the
// same pair.
func Ensure(privateKeyPath, publicKeyPath string) (*KeyPair, error) {
	if pair, ok, err := existing(privateKeyPath, publicKeyPath); err != nil {
		return nil, err
	} else if ok {
		return pair, nil
	}

	generateMu.Lock()
	defer generateMu.Unlock()

	// Re-check: another caller may have generated while we waited on the
	// lock. Without this, the loser of the race would overwrite a key the
	// winner is already using for authentication.
	if pair, ok, err := existing(privateKeyPath, publicKeyPath); err != nil {
		return nil, err
	} else if ok {
		return pair, nil
	}

	return generate(privateKeyPath, publicKeyPath)
}

// existing reports whether both halves are present, returning the pair if so.
func existing(privateKeyPath, publicKeyPath string) (*KeyPair, bool, error) {
	if _, err := os.Stat(privateKeyPath); err != nil {
		return nil, false, nil
	}
	publicKeyBytes, err := os.ReadFile(publicKeyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read existing public key: %w", err)
	}
	return &KeyPair{
		PrivateKeyPath: privateKeyPath,
		PublicKeyPath:  publicKeyPath,
		PublicKey:      strings.TrimSpace(string(publicKeyBytes)),
	}, true, nil
}

func generate(privateKeyPath, publicKeyPath string) (*KeyPair, error) {
	for _, p := range []string{privateKeyPath, publicKeyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return nil, fmt.Errorf("failed to create key directory: %w", err)
		}
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	if err := os.WriteFile(privateKeyPath, privateKeyPEM, 0600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}

	// WriteFile's mode is ignored if the file already existed, and a
	// group- or world-readable private key is rejected by strict sshd
	// policies, so enforce and verify the mode explicitly.
	if err := os.Chmod(privateKeyPath, 0600); err != nil {
		return nil, fmt.Errorf("failed to set private key permissions: %w", err)
	}
	info, err := os.Stat(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat private key: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return nil, fmt.Errorf("private key %s has permissive mode %04o", privateKeyPath, mode)
	}

	sshPublicKey, err := ssh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	// Single authorized_keys line: "ssh-rsa <base64> zonekit"
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPublicKey))) + " " + keyComment
	if err := os.WriteFile(publicKeyPath, []byte(line+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}

	return &KeyPair{
		PrivateKeyPath: privateKeyPath,
		PublicKeyPath:  publicKeyPath,
		PublicKey:      line,
	}, nil
}
