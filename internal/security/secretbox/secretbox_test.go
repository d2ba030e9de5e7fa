package secretbox

import (
	"encoding/base64"
	"testing"
)

func testBox(t *testing.T) *Box {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	box, err := New(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("failed to create box: %v", err)
	}
	return box
}

func TestEncryptDecrypt(t *testing.T) {
	box := testBox(t)
	token := "tok_9f3a41c0d2"
	ciphertext, err := box.Encrypt(token)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if ciphertext == token {
		t.Fatal("ciphertext must not equal the gateway token")
	}
	plaintext, err := box.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if plaintext != token {
		t.Fatalf("unexpected plaintext: %s", plaintext)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	box := testBox(t)
	ciphertext, err := box.Encrypt("tok_9f3a41c0d2")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := box.Decrypt(ciphertext[:len(ciphertext)-2]); err == nil {
		t.Fatal("truncated ciphertext must not decrypt")
	}
}
