package chat

import "net/url"

const roomKeyPrefix = "chat:"

// RoomKey returns the canonical key of the conversation between a and b.
// The result does not depend on argument order. Each identity is query-escaped
// so that a separator inside a username cannot make two pairs collide.
func RoomKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return roomKeyPrefix + url.QueryEscape(a) + ":" + url.QueryEscape(b)
}
