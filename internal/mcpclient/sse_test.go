package mcpclient

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSSEEvent_BasicFrame(t *testing.T) {
	raw := "id: 42\nevent: message\ndata: {\"ok\":true}\n\n"
	r := bufio.NewReader(strings.NewReader(raw))
	ev, err := readSSEEvent(r)
	require.NoError(t, err)
	assert.Equal(t, "42", ev.ID)
	assert.Equal(t, "message", ev.Event)
	assert.Equal(t, `{"ok":true}`, ev.Data)
}

func TestReadSSEEvent_MultilineDataConcatenated(t *testing.T) {
	raw := "data: line1\ndata: line2\n\n"
	r := bufio.NewReader(strings.NewReader(raw))
	ev, err := readSSEEvent(r)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", ev.Data)
}

func TestReadSSEEvent_IgnoresComments(t *testing.T) {
	raw := ": this is a comment\ndata: payload\n\n"
	r := bufio.NewReader(strings.NewReader(raw))
	ev, err := readSSEEvent(r)
	require.NoError(t, err)
	assert.Equal(t, "payload", ev.Data)
}
