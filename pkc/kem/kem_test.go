package kem_test

import (
	"bytes"
	"testing"

	kem "github.com/collapsinghierarchy/quorum/pkc/kem"
)

func generateKeyPair(t *testing.T) (pub, priv []byte) {
	t.Helper()
	pub, priv, err := kem.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair error: %v", err)
	}
	return pub, priv
}

func TestEncapsulateDecapsulate(t *testing.T) {
	pub, priv := generateKeyPair(t)
	m1, m2 := []byte("ctx1"), []byte("ctx2")

	ct, key1, err := kem.Encapsulate(pub, m1, m2)
	if err != nil {
		t.Fatalf("Encapsulate failed: %v", err)
	}
	if got, want := len(key1), 32; got != want {
		t.Fatalf("wrong key length: got %d, want %d", got, want)
	}
	key2, err := kem.Decapsulate(priv, ct, m1, m2)
	if err != nil {
		t.Fatalf("Decapsulate failed: %v", err)
	}
	if !bytes.Equal(key1, key2) {
		t.Error("derived keys differ between Encapsulate and Decapsulate")
	}
}

func TestSealOpenSalt(t *testing.T) {
	pub, priv := generateKeyPair(t)
	salt := []byte("secret_salt_123")

	env, err := kem.SealSalt(pub, 7, salt)
	if err != nil {
		t.Fatalf("SealSalt: %v", err)
	}
	if bytes.Contains(env, salt) {
		t.Fatal("envelope leaks the plaintext salt")
	}
	got, err := kem.OpenSalt(priv, 7, env)
	if err != nil {
		t.Fatalf("OpenSalt: %v", err)
	}
	if !bytes.Equal(got, salt) {
		t.Errorf("salt mismatch: got %q want %q", got, salt)
	}
}

func TestOpenSaltBoundToSubmission(t *testing.T) {
	pub, priv := generateKeyPair(t)
	env, err := kem.SealSalt(pub, 1, []byte("s"))
	if err != nil {
		t.Fatalf("SealSalt: %v", err)
	}
	if _, err := kem.OpenSalt(priv, 2, env); err == nil {
		t.Fatal("envelope opened under a different submission id")
	}
}

func TestOpenSaltTruncated(t *testing.T) {
	_, priv := generateKeyPair(t)
	if _, err := kem.OpenSalt(priv, 1, []byte{0, 0, 0, 9, 1}); err != kem.ErrEnvelope {
		t.Fatalf("want ErrEnvelope, got %v", err)
	}
}
