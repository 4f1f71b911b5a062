// ABOUTME: Conversation key derivation for pairwise and group logs
// ABOUTME: Pairwise keys are symmetric in their two identities

package chat

import (
	"strings"
	"unicode"
)

const (
	directPrefix = "dm:"
	keySeparator = "\x1f"
)

// ConversationKey returns the log key for the pairwise chat between a and b.
// The result does not depend on argument order.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return directPrefix + a + keySeparator + b
}

// GroupKey returns the log key for a group conversation.
func GroupKey(groupID string) string {
	return groupID
}

// Participants splits a pairwise key back into its two identities.
// ok is false for group keys.
func Participants(key string) (a, b string, ok bool) {
	rest, found := strings.CutPrefix(key, directPrefix)
	if !found {
		return "", "", false
	}
	a, b, ok = strings.Cut(rest, keySeparator)
	return a, b, ok
}

// ValidIdentity reports whether name contains no control characters.
// Keys rely on this to stay unambiguous.
func ValidIdentity(name string) bool {
	for _, r := range name {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}
