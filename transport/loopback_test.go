package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloMansanet/subotai/peer"
)

func newLoopbackAddr(t *testing.T, port int) peer.Addr {
	t.Helper()
	addr, err := peer.NewAddr("127.0.0.1", port)
	require.NoError(t, err)
	return addr
}

func TestLoopbackDeliversDatagram(t *testing.T) {
	net := NewLoopbackNetwork()
	a := NewLoopback(net, newLoopbackAddr(t, 10001))
	b := NewLoopback(net, newLoopbackAddr(t, 10002))
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.SendTo(b.LocalAddr(), []byte("hello")))

	data, source, err := b.ReceiveFrom(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, a.LocalAddr().String(), source.String())
}

func TestLoopbackReceiveTimesOutWithNoTraffic(t *testing.T) {
	net := NewLoopbackNetwork()
	a := NewLoopback(net, newLoopbackAddr(t, 10003))
	defer a.Close()

	_, _, err := a.ReceiveFrom(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestLoopbackSendToUnknownAddressIsSilentlyDropped(t *testing.T) {
	net := NewLoopbackNetwork()
	a := NewLoopback(net, newLoopbackAddr(t, 10004))
	defer a.Close()

	unknown := newLoopbackAddr(t, 10005)
	assert.NoError(t, a.SendTo(unknown, []byte("x")))
}

func TestLoopbackRejectsOversizedPayload(t *testing.T) {
	net := NewLoopbackNetwork()
	a := NewLoopback(net, newLoopbackAddr(t, 10006))
	b := NewLoopback(net, newLoopbackAddr(t, 10007))
	defer a.Close()
	defer b.Close()

	big := make([]byte, MaxDatagramBytes+1)
	assert.ErrorIs(t, a.SendTo(b.LocalAddr(), big), ErrTooLarge)
}

func TestLoopbackCloseStopsTraffic(t *testing.T) {
	net := NewLoopbackNetwork()
	a := NewLoopback(net, newLoopbackAddr(t, 10008))
	require.NoError(t, a.Close())

	_, _, err := a.ReceiveFrom(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
}
