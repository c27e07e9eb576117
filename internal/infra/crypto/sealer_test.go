package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestSealer_RoundTrip(t *testing.T) {
	sealer, err := NewSealer(testKey(t))
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	inputs := [][]byte{
		{0x00},
		[]byte("%PDF-1.3 monthly report"),
		bytes.Repeat([]byte{0xAB}, 64*1024),
	}
	for _, input := range inputs {
		sealed, err := sealer.Seal(input)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		if len(sealed) != NonceSize+len(input)+TagSize {
			t.Fatalf("expected sealed length %d, got %d", NonceSize+len(input)+TagSize, len(sealed))
		}
		opened, err := sealer.Open(sealed)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if !bytes.Equal(opened, input) {
			t.Fatal("round trip mismatch")
		}
	}
}

func TestSealer_FreshNoncePerCall(t *testing.T) {
	sealer, err := NewSealer(testKey(t))
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	a, _ := sealer.Seal([]byte("same input"))
	b, _ := sealer.Seal([]byte("same input"))
	if bytes.Equal(a[:NonceSize], b[:NonceSize]) {
		t.Fatal("expected distinct nonces")
	}
	if bytes.Equal(a, b) {
		t.Fatal("expected distinct ciphertexts")
	}
}

func TestSealer_WrongKeyFails(t *testing.T) {
	a, _ := NewSealer(testKey(t))
	b, _ := NewSealer(testKey(t))
	sealed, err := a.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := b.Open(sealed); err == nil {
		t.Fatal("expected open with wrong key to fail")
	}
	if _, err := a.Open(sealed[:NonceSize]); !errors.Is(err, ErrSealedTooShort) {
		t.Fatalf("expected ErrSealedTooShort, got %v", err)
	}
}

func TestParseKey(t *testing.T) {
	valid := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, KeySize))
	if _, err := ParseKey(valid); err != nil {
		t.Fatalf("parse valid key: %v", err)
	}
	if _, err := ParseKey(""); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}
	short := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 16))
	if _, err := ParseKey(short); !errors.Is(err, ErrKeyInvalid) {
		t.Fatalf("expected ErrKeyInvalid for short key, got %v", err)
	}
	if _, err := ParseKey("not base64!"); !errors.Is(err, ErrKeyInvalid) {
		t.Fatalf("expected ErrKeyInvalid for bad encoding, got %v", err)
	}
}

func TestVerify_DetectsFlippedByte(t *testing.T) {
	sealer, err := NewSealer(testKey(t))
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	plaintext := []byte("%PDF-1.3\nactivities: field work\nresults: report delivered\n%%EOF")
	hash := HashHex(plaintext)
	sealed, err := sealer.Seal(plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	cases := []struct {
		name   string
		stored []byte
		sealed bool
	}{
		{name: "plain", stored: plaintext, sealed: false},
		{name: "sealed", stored: sealed, sealed: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := Verify(tc.stored, hash, tc.sealed, sealer)
			if err != nil || !ok {
				t.Fatalf("expected untouched artifact to verify, ok=%v err=%v", ok, err)
			}
			for _, idx := range []int{0, len(tc.stored) / 2, len(tc.stored) - 1} {
				tampered := append([]byte(nil), tc.stored...)
				tampered[idx] ^= 0x01
				ok, err := Verify(tampered, hash, tc.sealed, sealer)
				if err != nil {
					t.Fatalf("verify tampered: %v", err)
				}
				if ok {
					t.Fatalf("expected flipped byte at %d to be detected", idx)
				}
			}
		})
	}
}

func TestVerify_SealedWithoutKey(t *testing.T) {
	if _, err := Verify([]byte("x"), HashHex([]byte("x")), true, nil); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}
}

func TestLayer_PlaintextMode(t *testing.T) {
	layer := NewLayer(nil)
	data := []byte("%PDF-1.3 plain")
	stored, sealed, err := layer.Seal(data)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed || string(stored) != string(data) {
		t.Fatal("expected plaintext passthrough without a key")
	}
	ok, err := layer.Verify(stored, layer.Hash(data), false)
	if err != nil || !ok {
		t.Fatalf("expected plaintext verify to pass: ok=%v err=%v", ok, err)
	}
	if layer.Encrypting() {
		t.Fatal("expected plaintext layer to report no encryption")
	}
}

func TestLayer_SealedRoundTrip(t *testing.T) {
	sealer, err := NewSealer(testKey(t))
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	layer := NewLayer(sealer)
	data := []byte("%PDF-1.3 sealed")
	stored, sealed, err := layer.Seal(data)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !sealed || string(stored) == string(data) {
		t.Fatal("expected ciphertext when a key is configured")
	}
	ok, err := layer.Verify(stored, layer.Hash(data), true)
	if err != nil || !ok {
		t.Fatalf("expected sealed verify to pass: ok=%v err=%v", ok, err)
	}
}

func TestLayer_Open(t *testing.T) {
	sealer, err := NewSealer(testKey(t))
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	data := []byte("%PDF-1.3 kept")
	stored, _, err := NewLayer(sealer).Seal(data)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	opened, err := NewLayer(sealer).Open(stored, true)
	if err != nil || !bytes.Equal(opened, data) {
		t.Fatalf("expected sealed artifact to open, got %q %v", opened, err)
	}
	if _, err := NewLayer(nil).Open(stored, true); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}
	plain, err := NewLayer(nil).Open(data, false)
	if err != nil || !bytes.Equal(plain, data) {
		t.Fatalf("expected plaintext passthrough, got %q %v", plain, err)
	}
	if NewLayer(nil).Algorithm() != HashAlgorithm {
		t.Fatalf("unexpected algorithm %q", NewLayer(nil).Algorithm())
	}
}
