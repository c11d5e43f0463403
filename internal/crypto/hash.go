package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HashSHA256 returns the hex HMAC-SHA256 of data under key.
func HashSHA256(data []byte, key string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySHA256 reports whether sum is the hex HMAC-SHA256 of data under key.
// The comparison is constant time.
func VerifySHA256(data []byte, key, sum string) bool {
	want, err := hex.DecodeString(sum)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(key))
	h.Write(data)
	return hmac.Equal(h.Sum(nil), want)
}
