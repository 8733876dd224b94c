// Package conv derives conversation identities. Group conversations are
// persisted records with their own ids; a 1:1 conversation is identified by a
// key computed from the two participant ids, used only for routing typing and
// receipt events.
package conv

import (
	"sort"
	"strings"
)

const keySeparator = "_"

// Resolve1to1 returns the deterministic key for a 1:1 pair: the two ids
// sorted lexicographically and joined. Order-independent.
func Resolve1to1(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return ids[0] + keySeparator + ids[1]
}

// OtherParticipant returns the counterpart of selfID in a 1:1 key, or false
// when selfID is not one of the key's participants. The key is split on the
// separator and filtered; substring removal would corrupt the result whenever
// one id is a prefix of the other (u1 vs u10).
func OtherParticipant(key, selfID string) (string, bool) {
	var other string
	foundSelf := false
	for _, id := range strings.Split(key, keySeparator) {
		switch {
		case id == "":
		case id == selfID:
			foundSelf = true
		default:
			other = id
		}
	}
	if !foundSelf || other == "" {
		return "", false
	}
	return other, true
}

// Participants splits a 1:1 key back into its two participant ids.
func Participants(key string) []string {
	parts := strings.Split(key, keySeparator)
	out := make([]string, 0, 2)
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
