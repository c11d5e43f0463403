package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashSHA256_Deterministic(t *testing.T) {
	assert.Equal(t, HashSHA256([]byte("data"), "k"), HashSHA256([]byte("data"), "k"))
}

func TestHashSHA256_KeyMatters(t *testing.T) {
	assert.NotEqual(t, HashSHA256([]byte("data"), "k1"), HashSHA256([]byte("data"), "k2"))
}

func TestHashSHA256_KnownVector(t *testing.T) {
	// RFC 4231 test case 2
	got := HashSHA256([]byte("what do ya want for nothing?"), "Jefe")
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", got)
}

func TestVerifySHA256(t *testing.T) {
	body := []byte(`{"oid":".1.3.6.1.4.1.2021.10.1.3.1.0"}`)
	sum := HashSHA256(body, "secret")

	tests := []struct {
		name string
		data []byte
		key  string
		sum  string
		want bool
	}{
		{"match", body, "secret", sum, true},
		{"wrong key", body, "other", sum, false},
		{"tampered body", append([]byte{' '}, body...), "secret", sum, false},
		{"not hex", body, "secret", "zz", false},
		{"empty sum", body, "secret", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySHA256(tt.data, tt.key, tt.sum))
		})
	}
}
