package generate

import (
	"crypto/rand"
	"encoding/base64"
)

// Passphrase returns a credential suitable for the PASSPHRASE variable of the
// database image. The characters produced are safe to embed in a connection
// URL without escaping.
func Passphrase() (string, error) {
	return RandomFixedLengthStringOfSize(20)
}

func RandomFixedLengthStringOfSize(n int) (string, error) {
	b, err := generateRandomBytes(n)
	return base64.URLEncoding.EncodeToString(b)[:n], err
}

func generateRandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}

	return b, nil
}
