package ttl

import (
	"encoding/binary"
	"fmt"
)

const timestampSize = 8

func encodeTimestamp(ts uint64) []byte {
	b := make([]byte, timestampSize)
	binary.BigEndian.PutUint64(b, ts)
	return b
}

func decodeTimestamp(b []byte) (uint64, error) {
	if len(b) != timestampSize {
		return 0, fmt.Errorf("%w: timestamp has %d bytes", errMalformedRow, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// reverseKey builds the Reverse index key. Fixed-width big-endian
// timestamps keep byte order equal to expiry order.
func reverseKey(ts uint64, key []byte) []byte {
	rk := make([]byte, timestampSize, timestampSize+len(key))
	binary.BigEndian.PutUint64(rk, ts)
	return append(rk, key...)
}

func splitReverseKey(rk []byte) (uint64, []byte, error) {
	if len(rk) <= timestampSize {
		return 0, nil, fmt.Errorf("%w: reverse key has %d bytes", errMalformedRow, len(rk))
	}
	return binary.BigEndian.Uint64(rk[:timestampSize]), rk[timestampSize:], nil
}
