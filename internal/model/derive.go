package model

import (
	"sort"
	"time"
)

// titleMaxLen is the cutoff for deriving a session title from its first
// user message.
const titleMaxLen = 30

// SortSessions orders sessions by last activity, most recent first.
// The sort is stable: sessions with equal timestamps keep their relative
// order.
func SortSessions(sessions []Session) []Session {
	out := make([]Session, len(sessions))
	copy(out, sessions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out
}

// SortMessages orders messages by timestamp ascending, ties broken by id
// lexical order so display order is deterministic regardless of delivery
// order.
func SortMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DeriveTitle returns the content unchanged if it fits in 30 characters,
// else the first 30 characters followed by "...".
func DeriveTitle(firstUserMessage string) string {
	runes := []rune(firstUserMessage)
	if len(runes) <= titleMaxLen {
		return firstUserMessage
	}
	return string(runes[:titleMaxLen]) + "..."
}

// FormatRelativeDate renders a timestamp relative to the given now:
// "Today" for the same calendar day, "Yesterday" for exactly one calendar
// day earlier, otherwise a short date string.
func FormatRelativeDate(timestamp int64, now time.Time) string {
	t := time.UnixMilli(timestamp).In(now.Location())

	if sameDay(t, now) {
		return "Today"
	}
	if sameDay(t, now.AddDate(0, 0, -1)) {
		return "Yesterday"
	}
	return t.Format("Jan 2, 2006")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
