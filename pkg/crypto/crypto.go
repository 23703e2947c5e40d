package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"math/big"
)

// Cryptography primitives used across the platform:
// - RSA-4096 for the one-shot app-registration exchange
// - AES-256-GCM for message content at rest
// - SHA-256 for integrity digests
const (
	RSAKeySize = 4096

	AESKeySize   = 32 // 256-bit
	GCMNonceSize = 12 // 96-bit
	GCMTagSize   = 16 // 128-bit

	// AlgorithmLabel is reported to clients at registration time
	AlgorithmLabel = "RSA-4096/AES-256/SHA-256"
)

// ErrCrypto is the single failure mode for every primitive in this package.
// Decryption failures are deliberately indistinguishable from tampering.
var ErrCrypto = fmt.Errorf("crypto operation failed")

// GenerateKeyPair generates an RSA-4096 key pair for the server
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, RSAKeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: generate key pair: %v", ErrCrypto, err)
	}
	return key, nil
}

// GenerateConversationKey generates a fresh AES-256 key
func GenerateConversationKey() ([]byte, error) {
	key := make([]byte, AESKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: generate conversation key: %v", ErrCrypto, err)
	}
	return key, nil
}

// EncryptAESGCM encrypts plaintext with AES-256-GCM and a fresh random nonce.
// Output is base64(nonce || ciphertext || tag) as one opaque blob.
func EncryptAESGCM(plaintext string, key []byte) (string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, GCMNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: generate nonce: %v", ErrCrypto, err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptAESGCM reverses EncryptAESGCM. Any malformed, truncated, or
// tampered input fails with ErrCrypto without distinguishing the cause.
func DecryptAESGCM(blob string, key []byte) (string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: decrypt", ErrCrypto)
	}
	if len(sealed) < GCMNonceSize+GCMTagSize {
		return "", fmt.Errorf("%w: decrypt", ErrCrypto)
	}

	nonce, ciphertext := sealed[:GCMNonceSize], sealed[GCMNonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decrypt", ErrCrypto)
	}

	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AESKeySize {
		return nil, fmt.Errorf("%w: invalid key size", ErrCrypto)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return aead, nil
}

// EncryptRSA encrypts small payloads with the server's public key.
// Used only for the registration challenge exchange, never for messages.
func EncryptRSA(plaintext string, publicKey *rsa.PublicKey) (string, error) {
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, publicKey, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("%w: rsa encrypt: %v", ErrCrypto, err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptRSA decrypts an RSA payload with the server's private key
func DecryptRSA(encoded string, privateKey *rsa.PrivateKey) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: rsa decrypt", ErrCrypto)
	}
	plaintext, err := rsa.DecryptPKCS1v15(rand.Reader, privateKey, ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: rsa decrypt", ErrCrypto)
	}
	return string(plaintext), nil
}

// HashSHA256 returns the base64 SHA-256 digest of data
func HashSHA256(data string) string {
	sum := sha256.Sum256([]byte(data))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyIntegrity checks data against a previously computed digest
func VerifyIntegrity(data, digest string) bool {
	return HashSHA256(data) == digest
}

// GenerateNumericKey generates a cryptographically random numeric string
// of the given length. The 16-digit app private key comes from here.
func GenerateNumericKey(digits int) (string, error) {
	buf := make([]byte, digits)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("%w: generate numeric key: %v", ErrCrypto, err)
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}

// PublicKeyToString encodes a public key as base64 DER for transmission
func PublicKeyToString(publicKey *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("%w: marshal public key: %v", ErrCrypto, err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// StringToPublicKey decodes a base64 DER public key
func StringToPublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key", ErrCrypto)
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key", ErrCrypto)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", ErrCrypto)
	}
	return rsaKey, nil
}

// KeyToString encodes a conversation key for storage
func KeyToString(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// StringToKey decodes a stored conversation key
func StringToKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode key", ErrCrypto)
	}
	return key, nil
}
