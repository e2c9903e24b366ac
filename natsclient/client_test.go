package natsclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaults(t *testing.T) {
	c := New("nats://localhost:4222")

	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Equal(t, -1, c.maxReconnects)
}

func TestOptions(t *testing.T) {
	c := New("nats://localhost:4222",
		WithName("clasp-federation"),
		WithMaxReconnects(5),
		WithReconnectWait(250*time.Millisecond),
	)

	assert.Equal(t, "clasp-federation", c.clientName)
	assert.Equal(t, 5, c.maxReconnects)
	assert.Equal(t, 250*time.Millisecond, c.reconnectWait)
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusClosed, "closed"},
		{ConnectionStatus(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestOperationsRequireConnection(t *testing.T) {
	c := New("nats://localhost:4222")

	assert.Error(t, c.Publish("clasp.state.x", []byte("{}")))

	_, err := c.Subscribe("clasp.state.>", func(string, []byte) {})
	assert.Error(t, err)

	_, err = c.RTT()
	assert.Error(t, err)

	assert.NoError(t, c.Close())
}
