package nats_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authapp/zitadel-sub007/pkg/infrastructure/nats"
)

const natsTimeout = 5 * time.Second

func TestEmbeddedServerRoundTrip(t *testing.T) {
	srv, err := nats.StartEmbeddedServer()
	require.NoError(t, err)
	defer srv.Shutdown()

	assert.NotEmpty(t, srv.URL())

	nc, err := nats.Connect(srv)
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("ping")
	require.NoError(t, err)
	require.NoError(t, nc.Publish("ping", []byte("pong")))
	require.NoError(t, nc.Flush())

	msg, err := sub.NextMsg(natsTimeout)
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), msg.Data)
}

func TestEmbeddedServerShutdownIsIdempotent(t *testing.T) {
	srv, err := nats.StartEmbeddedServer()
	require.NoError(t, err)

	srv.Shutdown()
	srv.Shutdown()
}

func TestEmbeddedServersGetDistinctPorts(t *testing.T) {
	first, err := nats.StartEmbeddedServer()
	require.NoError(t, err)
	defer first.Shutdown()

	second, err := nats.StartEmbeddedServer()
	require.NoError(t, err)
	defer second.Shutdown()

	assert.NotEqual(t, first.URL(), second.URL())
}
