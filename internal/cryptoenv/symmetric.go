package cryptoenv

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// TransmittedIVSize is the number of random bytes generated and sent ahead
// of every symmetrically-encrypted datagram. AES-CBC only consumes the
// first BlockSize (16) of these; the remaining 16 are carried for wire
// compatibility with the wider IV field this protocol was defined around.
// Trimming this width would require a wire version bump.
const TransmittedIVSize = 32

var (
	// ErrCiphertextTooShort is returned when a buffer handed to
	// DecryptPayload is too small to even hold the transmitted IV.
	ErrCiphertextTooShort = errors.New("cryptoenv: ciphertext shorter than transmitted IV")
	// ErrInvalidPadding is returned when PKCS#7 unpadding fails, which
	// this package treats as any other decrypt failure: fail fast, no
	// partial plaintext returned.
	ErrInvalidPadding = errors.New("cryptoenv: invalid PKCS#7 padding")
)

// EncryptPayload encrypts plaintext under key with AES-256-CBC and a fresh
// random IV, returning TransmittedIVSize-byte-IV || ciphertext. Exactly one
// of (bytes, error) is meaningful: on error no partial output is produced.
func EncryptPayload(key SessionKey, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptoenv: new cipher: %w", err)
	}

	ivWire := make([]byte, TransmittedIVSize)
	if _, err := rand.Read(ivWire); err != nil {
		return nil, fmt.Errorf("cryptoenv: generate iv: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, ivWire[:aes.BlockSize])
	mode.CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, TransmittedIVSize+len(ciphertext))
	out = append(out, ivWire...)
	out = append(out, ciphertext...)
	return out, nil
}

// DecryptPayload extracts the leading TransmittedIVSize bytes as IV, then
// decrypts and unpads the remainder. It fails fast on any cipher or padding
// error without returning partial plaintext.
func DecryptPayload(key SessionKey, framed []byte) ([]byte, error) {
	if len(framed) < TransmittedIVSize {
		return nil, ErrCiphertextTooShort
	}
	ivWire := framed[:TransmittedIVSize]
	ciphertext := framed[TransmittedIVSize:]

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("cryptoenv: ciphertext of %d bytes is not a multiple of the block size", len(ciphertext))
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptoenv: new cipher: %w", err)
	}

	plain := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, ivWire[:aes.BlockSize])
	mode.CryptBlocks(plain, ciphertext)

	return pkcs7Unpad(plain, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte(nil), data...), padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := len(data)
	if n == 0 || n%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > blockSize || padLen > n {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, ErrInvalidPadding
		}
	}
	return data[:n-padLen], nil
}
