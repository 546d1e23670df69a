package peering

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildHelloRoundTrip(t *testing.T) {
	sent := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	received := sent.Add(-2 * time.Second)

	h := buildHello(10000, []Port{10001}, []Port{10002, 10003}, sent, received)

	data, err := marshalHello(h)
	require.NoError(t, err)

	decoded, err := unmarshalHello(data)
	require.NoError(t, err)

	assert.Equal(t, Port(10000), decoded.ID)
	assert.Equal(t, MessageTypeHello, decoded.Type)
	assert.Equal(t, Address{IP: Loopback, Port: 10000}, decoded.Src)
	assert.Equal(t, []Port{10001}, decoded.UniNeighbours)
	assert.Equal(t, []Port{10002, 10003}, decoded.BiNeighbours)
	require.NotNil(t, decoded.LastSent)
	require.NotNil(t, decoded.LastReceived)
	assert.True(t, decoded.LastSent.Equal(sent))
	assert.True(t, decoded.LastReceived.Equal(received))
}

func TestBuildHelloZeroTimestampsSerializeAsNull(t *testing.T) {
	h := buildHello(10000, nil, nil, time.Time{}, time.Time{})

	data, err := marshalHello(h)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"lastSent":null`)
	assert.Contains(t, string(data), `"lastReceived":null`)
}

func TestMarshalHelloRejectsOversizedDatagram(t *testing.T) {
	uni := make([]Port, 400)
	for i := range uni {
		uni[i] = Port(10000 + i)
	}
	h := buildHello(10000, uni, nil, time.Time{}, time.Time{})

	_, err := marshalHello(h)
	require.Error(t, err)
}

func TestMutuallyVisible(t *testing.T) {
	h := Hello{UniNeighbours: []Port{1, 2}, BiNeighbours: []Port{3}}

	assert.True(t, mutuallyVisible(2, h))
	assert.True(t, mutuallyVisible(3, h))
	assert.False(t, mutuallyVisible(4, h))
}

func TestUnmarshalHelloRejectsMalformedDatagram(t *testing.T) {
	_, err := unmarshalHello([]byte("not json"))
	require.Error(t, err)
}
