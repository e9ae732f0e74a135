// internal/pkg/crypto/protector_test.go
package crypto

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	p, err := NewProtector("test-passphrase")
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}

	plaintext := []byte(`{"access_token":"abc","refresh_token":"def"}`)
	sealed, err := p.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if sealed == string(plaintext) {
		t.Fatal("sealed output equals plaintext")
	}

	opened, err := p.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch: got %q", opened)
	}
}

func TestSealProducesUniqueCiphertexts(t *testing.T) {
	p, err := NewProtector("test-passphrase")
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}

	a, _ := p.Seal([]byte("same input"))
	b, _ := p.Seal([]byte("same input"))
	if a == b {
		t.Fatal("two seals of the same input produced identical output")
	}
}

func TestOpenRejectsTamperedInput(t *testing.T) {
	p, err := NewProtector("test-passphrase")
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}

	sealed, err := p.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	raw, _ := base64.URLEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.URLEncoding.EncodeToString(raw)

	if _, err := p.Open(tampered); err == nil {
		t.Fatal("expected error opening tampered value")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	p, err := NewProtector("test-passphrase")
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}

	for _, input := range []string{"", "not-base64!!", "aGVsbG8="} {
		if _, err := p.Open(input); err == nil {
			t.Errorf("Open(%q): expected error", input)
		}
	}
}

func TestDifferentKeysCannotOpen(t *testing.T) {
	p1, _ := NewProtector("key-one")
	p2, _ := NewProtector("key-two")

	sealed, err := p1.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := p2.Open(sealed); err == nil {
		t.Fatal("expected error opening with a different key")
	}
}

func TestBase64KeyUsedDirectly(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))

	p, err := NewProtector(key)
	if err != nil {
		t.Fatalf("NewProtector with base64 key: %v", err)
	}

	sealed, err := p.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := p.Open(sealed); err != nil {
		t.Fatalf("Open: %v", err)
	}
}
