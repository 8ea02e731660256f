package pgstore

import "strconv"

// encodeOffsetCursor/decodeOffsetCursor mirror memstore's cursor scheme so
// the HTTP edge can treat both backends identically. A real-world
// production store might prefer a keyset cursor over raw OFFSET, but the
// ladders here are per-tenant and the tables stay small enough in practice
// that this is the same tradeoff memstore already makes.
func encodeOffsetCursor(offset int) string {
	if offset <= 0 {
		return ""
	}
	return strconv.Itoa(offset)
}

func decodeOffsetCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(cursor)
	if err != nil {
		return 0
	}
	return n
}
