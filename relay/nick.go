// File: relay/nick.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"strconv"
	"strings"
)

// DefaultNick is assigned when a client supplies no usable nickname.
const DefaultNick = "Anonymous"

// sanitizeNick strips control characters, trims surrounding whitespace,
// and truncates to maxLen runes.
func sanitizeNick(raw string, maxLen int) string {
	var b strings.Builder
	for _, r := range raw {
		if r < 0x20 || r == 0x7F {
			continue
		}
		b.WriteRune(r)
	}
	s := strings.TrimSpace(b.String())
	if runes := []rune(s); maxLen > 0 && len(runes) > maxLen {
		s = strings.TrimSpace(string(runes[:maxLen]))
	}
	return s
}

// resolveNick produces the nickname stored for a new connection. Empty
// input falls back to DefaultNick; collisions with taken names append a
// numeric suffix starting at 2.
func resolveNick(raw string, maxLen int, taken map[string]struct{}) string {
	base := sanitizeNick(raw, maxLen)
	if base == "" {
		base = DefaultNick
	}
	if _, ok := taken[base]; !ok {
		return base
	}
	for i := 2; ; i++ {
		candidate := base + strconv.Itoa(i)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}
