package tokens

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces keyed one-way hashes of refresh token secrets so that only
// the hash ever reaches durable storage.
type Hasher struct {
	key []byte
}

func NewHasher(key string) *Hasher {
	return &Hasher{key: []byte(key)}
}

func (h *Hasher) Hash(raw string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *Hasher) Matches(raw, hash string) bool {
	return hmac.Equal([]byte(h.Hash(raw)), []byte(hash))
}
