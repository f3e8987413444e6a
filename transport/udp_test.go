//go:build udp

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Exercises the real UDP transport end to end. Excluded from the default
// test run (no loopback sockets in CI sandboxes); run with `-tags udp`.
func TestUDPDeliversDatagram(t *testing.T) {
	a, err := NewUDP(0, 0)
	require.NoError(t, err)
	defer a.Close()

	b, err := NewUDP(0, 0)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.SendTo(b.LocalAddr(), []byte("hello")))

	data, source, err := b.ReceiveFrom(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.NotEmpty(t, source.String())
}

func TestUDPReceiveTimesOutWithNoTraffic(t *testing.T) {
	a, err := NewUDP(0, 0)
	require.NoError(t, err)
	defer a.Close()

	_, _, err = a.ReceiveFrom(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}
