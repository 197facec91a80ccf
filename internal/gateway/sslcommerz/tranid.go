package sslcommerz

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// GenerateTransactionID produces a merchant-side transaction id for a payment
// attempt. The id embeds the user id for traceability, a millisecond timestamp
// for chronological ordering, and 4 bytes of crypto/rand entropy against
// guessing and collisions. The result is uppercase and safe for URL query
// strings and gateway form fields.
func GenerateTransactionID(userID string) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// nanosecond suffix so the id stays collision-resistant.
		return strings.ToUpper(fmt.Sprintf("SUB_%s_%d_%08X", userID, time.Now().UnixMilli(), time.Now().UnixNano()&0xFFFFFFFF))
	}
	id := fmt.Sprintf("SUB_%s_%d_%s", userID, time.Now().UnixMilli(), hex.EncodeToString(buf))
	return strings.ToUpper(id)
}
