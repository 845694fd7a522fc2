package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	containerPrefix = "wauth:v1:"
	hkdfSalt        = "walletauth-user-store"
	minSecretLen    = 32
)

var (
	errKeyMissing    = errors.New("encryption key is not set")
	errKeyTooShort   = fmt.Errorf("encryption key must be 64 hex characters or at least %d bytes", minSecretLen)
	errBadContainer  = errors.New("container is not in the expected format")
	errDecryptFailed = errors.New("container could not be decrypted with the configured key")
)

// sealer はコンテナ全体をAES-256-GCMで暗号化・復号する。
// 鍵は外部から与えられたシークレットからHKDFで導出する。
type sealer struct {
	gcm cipher.AEAD
	aad []byte
}

// newSealer はシークレットとコンテナ名から sealer を生成する。
// 64文字の16進文字列は32バイトの鍵素材としてデコードする。
func newSealer(secret, container string) (*sealer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errKeyMissing
	}
	material := []byte(secret)
	if len(secret) == 64 {
		if b, err := hex.DecodeString(secret); err == nil {
			material = b
		}
	}
	if len(material) < minSecretLen {
		return nil, errKeyTooShort
	}

	r := hkdf.New(sha256.New, material, []byte(hkdfSalt), []byte("container:"+container))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &sealer{gcm: gcm, aad: []byte(container)}, nil
}

// seal は平文を "wauth:v1:<base64(nonce+ciphertext)>" 形式に暗号化する。
func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ct := s.gcm.Seal(nonce, nonce, plaintext, s.aad)
	return []byte(containerPrefix + base64.StdEncoding.EncodeToString(ct)), nil
}

// open は seal の出力を復号する。鍵の不一致と改ざんは区別しない。
func (s *sealer) open(data []byte) ([]byte, error) {
	text := strings.TrimSpace(string(data))
	if !strings.HasPrefix(text, containerPrefix) {
		return nil, errBadContainer
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(text, containerPrefix))
	if err != nil {
		return nil, errBadContainer
	}
	n := s.gcm.NonceSize()
	if len(raw) < n {
		return nil, errBadContainer
	}
	plaintext, err := s.gcm.Open(nil, raw[:n], raw[n:], s.aad)
	if err != nil {
		return nil, errDecryptFailed
	}
	return plaintext, nil
}

// GenerateKey は DB_ENCRYPTION_KEY に使える32バイトの16進鍵を生成する。
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
