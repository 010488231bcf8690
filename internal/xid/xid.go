// Package xid generates prefixed identifiers (ord-, prd-, ret-) so an
// id is recognizable on sight in logs and on receipts.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns "<prefix>-<unixnano>-<8 random bytes hex>". If the random
// source fails the timestamp alone still keeps ids unique enough for a
// single terminal.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
