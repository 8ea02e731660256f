package memstore

import (
	"strconv"
)

// encodeOffsetCursor/decodeOffsetCursor implement the simplest possible
// opaque cursor: a decimal offset. Good enough for an in-memory store whose
// whole point is tests, not public API stability across restarts.
func encodeOffsetCursor(offset int) string {
	return strconv.Itoa(offset)
}

func decodeOffsetCursor(cursor string) int {
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
