// File: relay/nick_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeNick(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Bob", "Bob"},
		{"  Bob  ", "Bob"},
		{"Bo\x00b", "Bob"},
		{"Bob\x1F\x7F", "Bob"},
		{"\t\n", ""},
		{"", ""},
		{"ABCDEFGHIJKLMNOPQRSTUVWXYZ", "ABCDEFGHIJKLMNOPQRSTUVWX"}, // 26 → 24 runes
		{"日本語のニックネーム", "日本語のニックネーム"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, sanitizeNick(c.in, 24), "input %q", c.in)
	}
}

func TestResolveNickUnique(t *testing.T) {
	taken := map[string]struct{}{}

	got := resolveNick("Bob", 24, taken)
	assert.Equal(t, "Bob", got)
	taken[got] = struct{}{}

	got = resolveNick("Bob", 24, taken)
	assert.Equal(t, "Bob2", got)
	taken[got] = struct{}{}

	got = resolveNick("Bob", 24, taken)
	assert.Equal(t, "Bob3", got)
}

func TestResolveNickDefault(t *testing.T) {
	taken := map[string]struct{}{}
	assert.Equal(t, DefaultNick, resolveNick("", 24, taken))
	assert.Equal(t, DefaultNick, resolveNick("  \x00 ", 24, taken))

	taken[DefaultNick] = struct{}{}
	assert.Equal(t, DefaultNick+"2", resolveNick("", 24, taken))
}
