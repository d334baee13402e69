package services

import (
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// SessionKey derives the shared cart key of a table. Every client at the same
// table gets the same key, and without secret nobody can compute it, so
// holding the key means having joined with the table's QR token.
func SessionKey(secret []byte, restaurantID string, tableNumber int) string {
	if len(secret) > blake2b.Size {
		sum := blake2b.Sum512(secret)
		secret = sum[:]
	}
	// New256 only fails on keys longer than blake2b.Size.
	h, _ := blake2b.New256(secret)
	h.Write([]byte(restaurantID + ":" + strconv.Itoa(tableNumber)))
	return hex.EncodeToString(h.Sum(nil)[:16])
}
