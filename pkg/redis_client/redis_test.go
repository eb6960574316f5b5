package redis_client

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectSkipsWithoutAddress(t *testing.T) {
	Client = nil

	require.NoError(t, Connect("", "", 0))
	assert.Nil(t, Client)
}

func TestConnect(t *testing.T) {
	server := miniredis.RunT(t)

	require.NoError(t, Connect(server.Addr(), "", 0))
	require.NotNil(t, Client)
	Client.Close()
	Client = nil
}

func TestConnectUnreachable(t *testing.T) {
	assert.Error(t, Connect("127.0.0.1:1", "", 0))
	assert.Nil(t, Client)
}
