package account

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
)

const alphanumerics = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newCode returns a six-digit confirmation code in [100000, 999999].
func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// randomString returns n characters drawn uniformly from alphanumerics.
func randomString(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphanumerics)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate random string: %w", err)
		}
		out[i] = alphanumerics[idx.Int64()]
	}
	return string(out), nil
}

// urlSafeToken returns nbytes of randomness as unpadded URL-safe base64.
func urlSafeToken(nbytes int) (string, error) {
	buf := make([]byte, nbytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// apiToken returns a token built from 50 to 70 random bytes.
func apiToken() (string, error) {
	extra, err := rand.Int(rand.Reader, big.NewInt(21))
	if err != nil {
		return "", fmt.Errorf("generate token size: %w", err)
	}
	return urlSafeToken(50 + int(extra.Int64()))
}

func equalSecret(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
