// File: relay/message_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	in, err := DecodeInbound([]byte(`{"type":"message","text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeMessage, in.Type)
	assert.Equal(t, "hello", in.Text)

	in, err = DecodeInbound([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, TypePing, in.Type)
}

func TestDecodeInboundMalformed(t *testing.T) {
	_, err := DecodeInbound([]byte(`not json at all`))
	assert.Error(t, err)

	_, err = DecodeInbound([]byte(`{"type":"message","text":`))
	assert.Error(t, err)
}

func TestDecodeInboundUnknownType(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":"shutdown"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownInboundType)

	_, err = DecodeInbound([]byte(`{"text":"no type"}`))
	assert.ErrorIs(t, err, ErrUnknownInboundType)
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "abc", truncateText("abc", 5))
	assert.Equal(t, "abcde", truncateText("abcdef", 5))
	assert.Equal(t, "abc", truncateText("abc", 0), "non-positive cap disables truncation")
	// Multi-byte text is cut on rune boundaries.
	assert.Equal(t, "日本", truncateText("日本語", 2))
}
