package app

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestDeriveAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	keyHex := hex.EncodeToString(crypto.FromECDSA(key))
	want := crypto.PubkeyToAddress(key.PublicKey).Hex()

	got, err := deriveAddress(keyHex)
	if err != nil {
		t.Fatalf("deriveAddress: %v", err)
	}
	if got != want {
		t.Fatalf("derived %s, want %s", got, want)
	}

	// Keys exported with a 0x prefix and stray whitespace must work too.
	got, err = deriveAddress("  0x" + keyHex + "\n")
	if err != nil {
		t.Fatalf("deriveAddress with prefix: %v", err)
	}
	if got != want {
		t.Fatalf("prefixed key derived %s, want %s", got, want)
	}
}

func TestDeriveAddressRejectsGarbage(t *testing.T) {
	if _, err := deriveAddress("not-a-key"); err == nil {
		t.Fatal("deriveAddress accepted garbage")
	}
}

func TestReadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "private.txt")
	content := "key-one\n\n# a comment\n  key-two  \n\t\nkey-three"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	lines, err := readLines(path)
	if err != nil {
		t.Fatalf("readLines: %v", err)
	}
	want := []string{"key-one", "key-two", "key-three"}
	if len(lines) != len(want) {
		t.Fatalf("read %d lines, want %d: %v", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestReadLinesMissingFile(t *testing.T) {
	lines, err := readLines(filepath.Join(t.TempDir(), "absent.txt"))
	if err != nil {
		t.Fatalf("readLines on missing file: %v", err)
	}
	if lines != nil {
		t.Fatalf("lines = %v, want nil for a missing file", lines)
	}
}

func TestDesktopUserAgentsLookRealistic(t *testing.T) {
	if len(desktopUserAgents) == 0 {
		t.Fatal("no user agents to assign at import")
	}
	for _, ua := range desktopUserAgents {
		if len(ua) < 40 {
			t.Errorf("user agent %q is too short to pass for a browser", ua)
		}
	}
}
