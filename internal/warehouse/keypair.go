package warehouse

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/youmark/pkcs8"
)

var (
	// ErrKeyFileNotFound is returned when the private key file does not exist.
	ErrKeyFileNotFound = errors.New("private key file not found")

	// ErrKeyNotPEM is returned when the key file does not contain a PEM block.
	ErrKeyNotPEM = errors.New("private key file is not PEM encoded")

	// ErrKeyNotRSA is returned when the parsed key is not an RSA private key.
	ErrKeyNotRSA = errors.New("private key is not an RSA key")
)

// LoadPrivateKey reads and parses an RSA private key from a PEM file for
// key-pair authentication. Unencrypted PKCS#8 and PKCS#1 keys are parsed
// directly; a non-empty passphrase selects encrypted PKCS#8 parsing.
//
// The resolved key is handed to the Snowflake driver, which serializes it to
// the binary (DER) encoding the service expects at connection time.
func LoadPrivateKey(path, passphrase string) (*rsa.PrivateKey, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyFileNotFound, path)
		}

		return nil, fmt.Errorf("failed to read private key %s: %w", path, err)
	}

	block, _ := pem.Decode(content)
	if block == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotPEM, path)
	}

	if passphrase != "" {
		key, err := pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt private key %s: %w", path, err)
		}

		return key, nil
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotRSA, path)
		}

		return rsaKey, nil
	}

	// Fall back to the legacy PKCS#1 container.
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
	}

	return rsaKey, nil
}
