package session

import (
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewID returns a unique session identifier. It prefers a UUIDv7 drawn from
// the system's secure random source and falls back to a pseudo-random string
// prefixed with the current time when that source is unavailable.
func NewID() string {
	id, err := uuid.NewV7()
	if err == nil {
		return id.String()
	}
	return fallbackID(time.Now())
}

func fallbackID(now time.Time) string {
	b := make([]byte, 16)
	for i := range b {
		b[i] = idAlphabet[rand.IntN(len(idAlphabet))]
	}
	return strconv.FormatInt(now.UnixMilli(), 36) + "-" + string(b)
}
