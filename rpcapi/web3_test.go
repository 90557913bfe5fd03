package rpcapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientVersionIsStable(t *testing.T) {
	require.Equal(t, clientVersion, Web3API{}.ClientVersion())
}
