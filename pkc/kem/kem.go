// Package kem seals commit-reveal salts for an escrow holder. It runs a
// hybrid Kyber768+X25519 KEM and derives an AES-256-GCM key from the shared
// secret with HKDF-SHA3-256.
package kem

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/cloudflare/circl/kem/hybrid"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

var scheme = hybrid.Kyber768X25519()

var ErrEnvelope = errors.New("malformed salt envelope")

const saltLabel = "quorum/salt-escrow/v1"

// GenerateKeyPair returns a binary-encoded escrow key pair.
func GenerateKeyPair() (pub, priv []byte, err error) {
	pk, sk, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	if pub, err = pk.MarshalBinary(); err != nil {
		return nil, nil, err
	}
	if priv, err = sk.MarshalBinary(); err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// Encapsulate runs the KEM against pub and returns the wire ciphertext and a
// 32-byte key bound to the context values m1 and m2.
func Encapsulate(pub, m1, m2 []byte) (ct, key []byte, err error) {
	pk, err := scheme.UnmarshalBinaryPublicKey(pub)
	if err != nil {
		return nil, nil, err
	}
	ct, secret, err := scheme.Encapsulate(pk)
	if err != nil {
		return nil, nil, err
	}
	return ct, deriveKey(secret, m1, m2), nil
}

// Decapsulate mirrors Encapsulate for the holder of the private key.
func Decapsulate(priv, ct, m1, m2 []byte) (key []byte, err error) {
	sk, err := scheme.UnmarshalBinaryPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	secret, err := scheme.Decapsulate(sk, ct)
	if err != nil {
		return nil, err
	}
	return deriveKey(secret, m1, m2), nil
}

// deriveKey is HKDF-SHA3-256(secret, info = SHA3-256(m1 || m2)).
func deriveKey(secret, m1, m2 []byte) []byte {
	h := sha3.New256()
	h.Write(m1)
	h.Write(m2)
	context := h.Sum(nil)

	hk := hkdf.New(sha3.New256, secret, nil, context)
	key := make([]byte, 32)
	if _, err := io.ReadFull(hk, key); err != nil {
		panic(err)
	}
	return key
}

// SealSalt encrypts salt for the escrow key, bound to the submission id.
//
// Envelope: [4-byte BE len(ct)] [ct] [1-byte nonce len] [nonce] [gcm ciphertext]
func SealSalt(pub []byte, submissionID uint64, salt []byte) ([]byte, error) {
	ct, key, err := Encapsulate(pub, []byte(saltLabel), idContext(submissionID))
	if err != nil {
		return nil, fmt.Errorf("kem encapsulate: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, salt, nil)

	buf := make([]byte, 4+len(ct)+1+len(nonce)+len(sealed))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(ct)))
	off := 4
	off += copy(buf[off:], ct)
	buf[off] = byte(len(nonce))
	off++
	off += copy(buf[off:], nonce)
	copy(buf[off:], sealed)
	return buf, nil
}

// OpenSalt reverses SealSalt. It fails if the envelope was sealed for a
// different submission id.
func OpenSalt(priv []byte, submissionID uint64, envelope []byte) ([]byte, error) {
	if len(envelope) < 5 {
		return nil, ErrEnvelope
	}
	ctLen := int(binary.BigEndian.Uint32(envelope[0:4]))
	if len(envelope) < 4+ctLen+1 {
		return nil, ErrEnvelope
	}
	ct := envelope[4 : 4+ctLen]
	off := 4 + ctLen
	nonceLen := int(envelope[off])
	off++
	if len(envelope) < off+nonceLen {
		return nil, ErrEnvelope
	}
	nonce := envelope[off : off+nonceLen]
	sealed := envelope[off+nonceLen:]

	key, err := Decapsulate(priv, ct, []byte(saltLabel), idContext(submissionID))
	if err != nil {
		return nil, fmt.Errorf("kem decapsulate: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if nonceLen != gcm.NonceSize() {
		return nil, ErrEnvelope
	}
	salt, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("aes open: %w", err)
	}
	return salt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func idContext(id uint64) []byte { return []byte(strconv.FormatUint(id, 10)) }
