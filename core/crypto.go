// core/crypto.go
package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// 密钥派生参数 (Argon2id, RFC 9106 interactive 推荐值)
const (
	kdfVersion     = 0x13 // Argon2 version 1.3
	kdfMemoryCost  = 64 * 1024
	kdfIterations  = 3
	kdfParallelism = 4
	kdfKeyLen      = 32

	saltSize  = 16
	nonceSize = 12

	// 1 MiB safety limit for the framed params blob
	maxFrameParamsLen = 1 << 20
)

// EncryptionMetadata is stored in clear in front of the ciphertext so a
// future reader can derive the same key. Salt and nonce are base64.
type EncryptionMetadata struct {
	Salt        string `json:"salt"`
	Nonce       string `json:"nonce"`
	Version     uint32 `json:"version"`
	MemoryCost  uint32 `json:"memory_cost"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint32 `json:"parallelism"`
}

// deriveKey runs Argon2id with the parameters recorded in meta.
func deriveKey(password string, salt []byte, meta EncryptionMetadata) []byte {
	return argon2.IDKey(
		[]byte(password),
		salt,
		meta.Iterations,
		meta.MemoryCost,
		uint8(meta.Parallelism),
		kdfKeyLen,
	)
}

// SecureZero 安全清零内存
func SecureZero(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// Seal encrypts plaintext under a key derived from password. The returned
// ciphertext carries the 16-byte GCM tag appended; salt and nonce are fresh
// random values from the system CSPRNG, so nonce uniqueness holds per call.
func Seal(plaintext []byte, password string) ([]byte, EncryptionMetadata, error) {
	if password == "" {
		return nil, EncryptionMetadata{}, fmt.Errorf("password cannot be empty for encryption")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, EncryptionMetadata{}, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, EncryptionMetadata{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	meta := EncryptionMetadata{
		Salt:        base64.StdEncoding.EncodeToString(salt),
		Nonce:       base64.StdEncoding.EncodeToString(nonce),
		Version:     kdfVersion,
		MemoryCost:  kdfMemoryCost,
		Iterations:  kdfIterations,
		Parallelism: kdfParallelism,
	}

	key := deriveKey(password, salt, meta)
	block, err := aes.NewCipher(key)
	// 密钥材料在 cipher 构造完成后立即清零
	SecureZero(key)
	if err != nil {
		return nil, EncryptionMetadata{}, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, EncryptionMetadata{}, fmt.Errorf("failed to create GCM: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, meta, nil
}

// Open decrypts ciphertext produced by Seal. A wrong password and tampered
// ciphertext or params are indistinguishable: both return ErrAuthFailed.
func Open(ciphertext []byte, password string, meta EncryptionMetadata) ([]byte, error) {
	if password == "" {
		return nil, ErrPasswordRequired
	}

	salt, err := base64.StdEncoding.DecodeString(meta.Salt)
	if err != nil || len(salt) == 0 {
		return nil, ErrAuthFailed
	}
	nonce, err := base64.StdEncoding.DecodeString(meta.Nonce)
	if err != nil || len(nonce) != nonceSize {
		return nil, ErrAuthFailed
	}
	if meta.Version != kdfVersion || meta.MemoryCost == 0 || meta.Iterations == 0 || meta.Parallelism == 0 || meta.Parallelism > 255 {
		return nil, ErrAuthFailed
	}

	key := deriveKey(password, salt, meta)
	block, err := aes.NewCipher(key)
	SecureZero(key)
	if err != nil {
		return nil, ErrAuthFailed
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrAuthFailed
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// EncodeEncryptedFrame lays out the on-disk .enc format:
//
//	[0,4)   little-endian u32 length L of the params JSON
//	[4,4+L) UTF-8 JSON of EncryptionMetadata
//	[4+L,…) AEAD ciphertext with tag appended
func EncodeEncryptedFrame(meta EncryptionMetadata, ciphertext []byte) ([]byte, error) {
	params, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal encryption params: %w", err)
	}

	frame := make([]byte, 0, 4+len(params)+len(ciphertext))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(params)))
	frame = append(frame, lenBuf[:]...)
	frame = append(frame, params...)
	frame = append(frame, ciphertext...)
	return frame, nil
}

// DecodeEncryptedFrame splits a framed .enc file back into params and
// ciphertext. Truncated files, length overruns and unparseable params all
// yield ErrCorruptFrame.
func DecodeEncryptedFrame(data []byte) (EncryptionMetadata, []byte, error) {
	if len(data) < 4 {
		return EncryptionMetadata{}, nil, ErrCorruptFrame
	}

	paramsLen := binary.LittleEndian.Uint32(data[:4])
	if paramsLen == 0 || paramsLen > maxFrameParamsLen || uint64(4)+uint64(paramsLen) > uint64(len(data)) {
		return EncryptionMetadata{}, nil, ErrCorruptFrame
	}

	var meta EncryptionMetadata
	if err := json.Unmarshal(data[4:4+paramsLen], &meta); err != nil {
		return EncryptionMetadata{}, nil, ErrCorruptFrame
	}

	return meta, data[4+paramsLen:], nil
}
