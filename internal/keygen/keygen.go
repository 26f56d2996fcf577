// Package keygen creates Curve25519 box key pairs and stores them the way the
// browser client expects: the secret key as raw bytes, the public key as a
// JavaScript Uint8Array literal.
package keygen

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/crypto/nacl/box"
)

const (
	SecretKeyFile = "secret.key"
	PublicKeyFile = "public.key"
)

// KeyPair holds a box key pair.
type KeyPair struct {
	Public *[32]byte
	Secret *[32]byte
}

// Generate creates a key pair from rnd, or crypto/rand when rnd is nil.
func Generate(rnd io.Reader) (*KeyPair, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	pub, sec, err := box.GenerateKey(rnd)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &KeyPair{Public: pub, Secret: sec}, nil
}

// JSArray renders key as `new Uint8Array([b0, b1, ...])`.
func JSArray(key []byte) string {
	var sb strings.Builder
	sb.WriteString("new Uint8Array([")
	for i, b := range key {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Itoa(int(b)))
	}
	sb.WriteString("])")
	return sb.String()
}

// WriteFiles stores kp in dir as secret.key and public.key, both mode 0600.
func (kp *KeyPair) WriteFiles(dir string) error {
	secretPath := filepath.Join(dir, SecretKeyFile)
	if err := os.WriteFile(secretPath, kp.Secret[:], 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", secretPath, err)
	}
	publicPath := filepath.Join(dir, PublicKeyFile)
	if err := os.WriteFile(publicPath, []byte(JSArray(kp.Public[:])), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", publicPath, err)
	}
	return nil
}
