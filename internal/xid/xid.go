// Package xid generates prefixed ids for sale-local entities (cart lines,
// payment lines). These ids never leave the terminal; server-issued ids are
// tracked separately on each model.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	ts := strconv.FormatInt(time.Now().UTC().UnixMilli(), 36)
	return fmt.Sprintf("%s-%s-%s", prefix, ts, hex.EncodeToString(buf))
}
