// Package p2p is the optional pluggable source/sink adapter spec §6
// describes: nodes exchange pooled UserOperations over a pubsub topic
// keyed by chain id, with inbound operations entering the same admission
// pipeline as an RPC submission. The spec marks P2P gossip itself out of
// core scope; this package only needs to get a UserOperation from one
// bundler's mempool onto the wire and back off it on the other side.
package p2p

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zsluedem/aa-bundler/entity"
)

// Message is one gossiped UserOperation, tagged with the EntryPoint it
// targets so a node running multiple EntryPoints can route it to the
// right mempool.
type Message struct {
	EntryPoint common.Address
	Op         *entity.UserOperation
}

// Source is anything that can hand the facade inbound UserOperations
// received from peers. Implementations: *Mesh.
type Source interface {
	// Messages returns a channel of inbound gossip. An implementation may
	// close it on shutdown; *Mesh never closes its channel.
	Messages() <-chan Message
}

// Sink is anything the facade can hand an admitted UserOperation to for
// onward gossip. Implementations: *Mesh.
type Sink interface {
	Publish(ctx context.Context, msg Message) error
}
