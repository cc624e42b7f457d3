package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infranats "github.com/authapp/zitadel-sub007/pkg/infrastructure/nats"
	"github.com/authapp/zitadel-sub007/pkg/messaging"
)

func TestEventBusCloseWaitsForConnectionClose(t *testing.T) {
	srv, err := infranats.StartEmbeddedServer()
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	cfg := DefaultConfig()
	cfg.URL = srv.URL()
	bus, err := NewEventBus(cfg)
	require.NoError(t, err)

	msg := messaging.Message{
		ID:            "close-1",
		InstanceID:    "inst-1",
		AggregateType: "user",
		AggregateID:   "user-1",
		EventType:     "user.added",
		CreatedAt:     time.Now().UTC(),
		Position:      "1700000000.000001.0",
		Payload:       []byte(`{}`),
	}
	require.NoError(t, bus.Publish(context.Background(), []messaging.Message{msg}))

	// Close must block until the drain finished; a connection that is
	// still open here could drop buffered publishes on process exit.
	require.NoError(t, bus.Close())
	assert.True(t, bus.nc.IsClosed(), "connection must be fully closed when Close returns")

	// Closing again is a no-op.
	assert.NoError(t, bus.Close())
}
