package cryptoenv

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

// ErrSessionKeyLength is returned by DecryptSessionKey when the recovered
// plaintext is not exactly SessionKeySize bytes wide.
var ErrSessionKeyLength = fmt.Errorf("cryptoenv: decrypted session key has the wrong length")

// EncryptSessionKey wraps a session key under a peer's RSA public key,
// producing the EncryptionContext payload. PKCS#1 v1.5 padding is used
// rather than OAEP, matching the wrapping scheme this protocol was
// originally built around.
func EncryptSessionKey(key SessionKey, peerPublic *rsa.PublicKey) ([]byte, error) {
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, peerPublic, key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptoenv: encrypt session key: %w", err)
	}
	return ct, nil
}

// DecryptSessionKey is the inverse of EncryptSessionKey: it unwraps ct under
// the local private key and validates the recovered plaintext is exactly a
// session key's width.
func DecryptSessionKey(ct []byte, myPrivate *rsa.PrivateKey) (SessionKey, error) {
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, myPrivate, ct)
	if err != nil {
		return SessionKey{}, fmt.Errorf("cryptoenv: decrypt session key: %w", err)
	}
	if len(plain) != SessionKeySize {
		return SessionKey{}, ErrSessionKeyLength
	}
	var key SessionKey
	copy(key[:], plain)
	return key, nil
}
