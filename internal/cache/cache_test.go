package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	Noop
	data map[string][]byte
}

func (m *memoryCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (m *memoryCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

type payload struct {
	Count int `json:"count"`
}

func TestRememberLoadsOnceThenHits(t *testing.T) {
	c := &memoryCache{data: map[string][]byte{}}
	calls := 0
	load := func(context.Context) (payload, error) {
		calls++
		return payload{Count: 7}, nil
	}

	first, err := Remember(context.Background(), c, "k", time.Minute, load)
	require.NoError(t, err)
	second, err := Remember(context.Background(), c, "k", time.Minute, load)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
}

func TestRememberWithNoopAlwaysLoads(t *testing.T) {
	calls := 0
	load := func(context.Context) (payload, error) {
		calls++
		return payload{Count: calls}, nil
	}
	for i := 0; i < 3; i++ {
		_, err := Remember[payload](context.Background(), Noop{}, "k", time.Minute, load)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
}

func TestRememberDoesNotStoreErrors(t *testing.T) {
	c := &memoryCache{data: map[string][]byte{}}
	boom := errors.New("boom")
	_, err := Remember(context.Background(), c, "k", time.Minute, func(context.Context) (payload, error) {
		return payload{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, c.data)
}

func TestNoopReportsDisconnected(t *testing.T) {
	var c Cache = Noop{}
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Ping(context.Background()), ErrDisconnected)
	assert.Equal(t, "disconnected", c.Stats(context.Background()).Status)
	keys, err := c.Keys(context.Background(), "*", 10)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestParseInfo(t *testing.T) {
	raw := "# Server\r\nredis_version:7.2.0\r\n# Memory\r\nused_memory_human:1.05M\r\n" +
		"connected_clients:3\r\ntotal_commands_processed:100\r\nkeyspace_hits:30\r\nkeyspace_misses:10\r\n"
	stats := parseInfo(raw)
	assert.Equal(t, "connected", stats.Status)
	assert.Equal(t, "1.05M", stats.UsedMemory)
	assert.Equal(t, int64(3), stats.ConnectedClients)
	assert.InDelta(t, 0.75, stats.HitRate, 1e-9)
}
