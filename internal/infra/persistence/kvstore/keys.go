package kvstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const sep = "\x00"

// Record and index key prefixes. Index keys end with the id of the record they
// point at; unique indexes store that id as the value instead.
const (
	prefixOrder   = "o"
	prefixTrade   = "t"
	prefixBalance = "b"
	prefixHold    = "h"
	prefixAudit   = "a"
	prefixTotal   = "ht"
	seqAudit      = "seq" + sep + "audit"

	idxOrderUser       = "ix" + sep + "ou"
	idxOrderUserStatus = "ix" + sep + "ous"
	idxOrderUserAsset  = "ix" + sep + "oua"
	idxOrderExternal   = "ix" + sep + "oext"
	idxTradeOrder      = "ix" + sep + "to"
	idxTradeUser       = "ix" + sep + "tu"
	idxTradeAsset      = "ix" + sep + "ta"
	idxTradeExternal   = "ix" + sep + "text"
	idxBalanceAsset    = "ix" + sep + "ba"
	idxHoldUser        = "ix" + sep + "hu"
	idxHoldOrder       = "ix" + sep + "ho"
	idxHoldActive      = "ix" + sep + "hact"
	idxAuditID         = "ix" + sep + "aid"
)

func key(parts ...string) []byte {
	return []byte(strings.Join(parts, sep))
}

// prefix returns key(parts...) followed by the separator so that "u1" never matches "u10".
func prefix(parts ...string) []byte {
	return append(key(parts...), sep...)
}

// stamp renders t as fixed-width nanoseconds so keys sort chronologically.
func stamp(t time.Time) string {
	return fmt.Sprintf("%020d", t.UTC().UnixNano())
}

func splitKey(k []byte) []string {
	return strings.Split(string(k), sep)
}

func lastSegment(k []byte) string {
	s := string(k)
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[i+len(sep):]
	}
	return s
}

// stampAt parses the timestamp segment located at index pos of k.
func stampAt(k []byte, pos int) (time.Time, error) {
	parts := splitKey(k)
	if pos >= len(parts) {
		return time.Time{}, fmt.Errorf("kvstore: key has no segment %d", pos)
	}
	nanos, err := strconv.ParseInt(parts[pos], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("kvstore: parse key timestamp: %w", err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

// prefixEnd returns a seek key sorting after every key that starts with p.
func prefixEnd(p []byte) []byte {
	return append(append([]byte{}, p...), 0xFF)
}
