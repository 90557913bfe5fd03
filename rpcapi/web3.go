package rpcapi

// clientVersion identifies this bundler over web3_clientVersion, as the
// "Name/vVersion" prefix of go-ethereum's client-version shape, without an
// os/runtime suffix.
const clientVersion = "aa-bundler/v0.1.0"

// Web3API implements the "web3" namespace: web3_clientVersion.
type Web3API struct{}

// ClientVersion answers web3_clientVersion.
func (Web3API) ClientVersion() string { return clientVersion }
