package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	got, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	if n != got {
		return nil, errors.New("unable to generate enough random data")
	}
	return b, nil
}

// EncodeSecret renders random bytes as a URL-safe client secret.
func EncodeSecret(b []byte) string {
	return base64.URLEncoding.EncodeToString(b)
}
