package nodegrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusfleet/nexuscore/pkg/transport"
)

func TestJSONCodec_RoundTripsRequestStructs(t *testing.T) {
	codec := jsonCodec{}
	req := &transport.CreatePoolRequest{Node: "node-1", Name: "pool-a", Disks: []string{"/dev/sda", "/dev/sdb"}}

	data, err := codec.Marshal(req)
	require.NoError(t, err)

	var out transport.CreatePoolRequest
	require.NoError(t, codec.Unmarshal(data, &out))
	assert.Equal(t, *req, out)
}

func TestJSONCodec_Name(t *testing.T) {
	assert.Equal(t, "json", jsonCodec{}.Name())
}
