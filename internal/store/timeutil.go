package store

import (
	"log"
	"time"
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// mustParseTime parses a stored timestamp. A malformed timestamp indicates
// on-disk corruption outside any caller's control; we log and fall back to
// the zero time rather than panicking mid-query.
func mustParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		log.Printf("[STORE] warning: malformed timestamp %q: %v", s, err)
		return time.Time{}
	}
	return t
}

func epochMs(t time.Time) int64 {
	return t.UnixMilli()
}

func fromEpochMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
