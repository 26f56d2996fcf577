package keygen

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/nacl/box"
)

func TestJSArray(t *testing.T) {
	if got := JSArray([]byte{0, 7, 255}); got != "new Uint8Array([0, 7, 255])" {
		t.Errorf("JSArray() = %q", got)
	}
	if got := JSArray(nil); got != "new Uint8Array([])" {
		t.Errorf("JSArray(nil) = %q", got)
	}
}

func TestGenerate_PairSealsAndOpens(t *testing.T) {
	recipient, err := Generate(nil)
	if err != nil {
		t.Fatalf("Generate() returned an error: %v", err)
	}
	sender, err := Generate(nil)
	if err != nil {
		t.Fatalf("Generate() returned an error: %v", err)
	}

	var nonce [24]byte
	sealed := box.Seal(nil, []byte("hello"), &nonce, recipient.Public, sender.Secret)
	opened, ok := box.Open(nil, sealed, &nonce, sender.Public, recipient.Secret)
	if !ok || string(opened) != "hello" {
		t.Fatalf("Generated keys do not form a working pair (ok=%v, %q)", ok, opened)
	}
}

func TestGenerate_ShortRandomSource(t *testing.T) {
	if _, err := Generate(bytes.NewReader([]byte{1, 2, 3})); err == nil {
		t.Error("Expected an error from a short random source")
	}
}

func TestWriteFiles(t *testing.T) {
	dir := t.TempDir()
	kp, err := Generate(nil)
	if err != nil {
		t.Fatalf("Generate() returned an error: %v", err)
	}
	if err := kp.WriteFiles(dir); err != nil {
		t.Fatalf("WriteFiles() returned an error: %v", err)
	}

	secret, err := os.ReadFile(filepath.Join(dir, SecretKeyFile))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(secret, kp.Secret[:]) {
		t.Error("secret.key does not hold the raw secret key")
	}

	public, err := os.ReadFile(filepath.Join(dir, PublicKeyFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(public) != JSArray(kp.Public[:]) {
		t.Errorf("public.key = %q", public)
	}

	info, err := os.Stat(filepath.Join(dir, SecretKeyFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("secret.key is readable by others: %v", perm)
	}
}
