package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendReceiveLoopback(t *testing.T) {
	recv, err := NewReceiver(0)
	require.NoError(t, err)
	defer recv.Close()

	port := recv.conn.LocalAddr().(*net.UDPAddr).Port
	send, err := NewSender(port)
	require.NoError(t, err)
	defer send.Close()

	require.NoError(t, send.SetDestIP("127.0.0.1"))
	ok := send.SendPacket([]byte("hello"))
	assert.True(t, ok)

	srcIP, data, err := recv.ListenForPackets()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", srcIP)
	assert.Equal(t, []byte("hello"), data)
}

func TestListenForPacketsTimesOutWithoutError(t *testing.T) {
	recv, err := NewReceiver(0)
	require.NoError(t, err)
	defer recv.Close()

	srcIP, data, err := recv.ListenForPackets()
	require.NoError(t, err)
	assert.Empty(t, srcIP)
	assert.Nil(t, data)
}
