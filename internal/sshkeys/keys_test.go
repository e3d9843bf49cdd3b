package sshkeys

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

func keyPaths(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "zonekit_key"), filepath.Join(dir, "zonekit_key.pub")
}

func TestEnsureGeneratesPair(t *testing.T) {
	privPath, pubPath := keyPaths(t)

	pair, err := Ensure(privPath, pubPath)
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	// Private half parses as an SSH signer
	privBytes, err := os.ReadFile(privPath)
	if err != nil {
		t.Fatalf("Failed to read private key: %v", err)
	}
	if _, err := ssh.ParsePrivateKey(privBytes); err != nil {
		t.Errorf("Private key does not parse: %v", err)
	}

	// Public half is one authorized_keys line: algorithm, material, comment
	fields := strings.Fields(pair.PublicKey)
	if len(fields) != 3 {
		t.Fatalf("Public key line has %d fields, want 3: %q", len(fields), pair.PublicKey)
	}
	if fields[0] != "ssh-rsa" {
		t.Errorf("Algorithm tag = %q, want ssh-rsa", fields[0])
	}
	if fields[2] != keyComment {
		t.Errorf("Comment = %q, want %q", fields[2], keyComment)
	}
	if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pair.PublicKey)); err != nil {
		t.Errorf("Public key is not a valid authorized_keys line: %v", err)
	}
}

func TestEnsurePrivateKeyPermissions(t *testing.T) {
	privPath, pubPath := keyPaths(t)

	if _, err := Ensure(privPath, pubPath); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	info, err := os.Stat(privPath)
	if err != nil {
		t.Fatalf("Failed to stat private key: %v", err)
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		t.Errorf("Private key mode = %04o, must deny group/other access", mode)
	}
}

func TestEnsureIdempotent(t *testing.T) {
	privPath, pubPath := keyPaths(t)

	first, err := Ensure(privPath, pubPath)
	if err != nil {
		t.Fatalf("First Ensure failed: %v", err)
	}
	second, err := Ensure(privPath, pubPath)
	if err != nil {
		t.Fatalf("Second Ensure failed: %v", err)
	}
	if first.PublicKey != second.PublicKey {
		t.Error("Second Ensure regenerated an existing key pair")
	}
}

func TestEnsureConcurrent(t *testing.T) {
	privPath, pubPath := keyPaths(t)

	const callers = 8
	results := make([]*KeyPair, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = Ensure(privPath, pubPath)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("Caller %d failed: %v", i, errs[i])
		}
	}

	// Every caller observes the same final public key, and it matches
	// what is on disk.
	onDisk, err := os.ReadFile(pubPath)
	if err != nil {
		t.Fatalf("Failed to read public key: %v", err)
	}
	want := strings.TrimSpace(string(onDisk))
	for i, pair := range results {
		if pair.PublicKey != want {
			t.Errorf("Caller %d observed public key %q, want %q", i, pair.PublicKey, want)
		}
	}
}

func TestEnsureRegeneratesWhenHalfMissing(t *testing.T) {
	privPath, pubPath := keyPaths(t)

	if _, err := Ensure(privPath, pubPath); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if err := os.Remove(pubPath); err != nil {
		t.Fatalf("Failed to remove public key: %v", err)
	}

	pair, err := Ensure(privPath, pubPath)
	if err != nil {
		t.Fatalf("Ensure after removing public half failed: %v", err)
	}

	// Both halves exist again and belong together
	privBytes, err := os.ReadFile(privPath)
	if err != nil {
		t.Fatalf("Failed to read private key: %v", err)
	}
	signer, err := ssh.ParsePrivateKey(privBytes)
	if err != nil {
		t.Fatalf("Private key does not parse: %v", err)
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pair.PublicKey))
	if err != nil {
		t.Fatalf("Public key does not parse: %v", err)
	}
	if string(signer.PublicKey().Marshal()) != string(pub.Marshal()) {
		t.Error("Regenerated halves do not form a matching pair")
	}
}
