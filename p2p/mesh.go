package p2p

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/metrics"
)

// wireMessage is Message's JSON form, carrying the topic so a peer
// dialing into several chain-id-keyed meshes over one port can be
// rejected if it sends on the wrong one.
type wireMessage struct {
	Topic      string                `json:"topic"`
	EntryPoint common.Address        `json:"entryPoint"`
	Op         *entity.UserOperation `json:"userOperation"`
}

// Mesh is a flat, fully-connected websocket gossip mesh: every peer is
// dialed or accepted directly, and Publish fans a message out to all of
// them. There is no relay/forwarding hop, matching spec §6's framing of
// P2P as a thin, optional adapter rather than a full devp2p-style
// overlay network.
type Mesh struct {
	chainID *big.Int
	topic   string

	upgrader websocket.Upgrader
	limiter  *peerLimiter

	mu    sync.RWMutex
	peers map[string]*peer

	inbound chan Message
}

type peer struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // guards concurrent WriteJSON calls
}

// NewMesh builds a Mesh for chainID's gossip topic. Callers wire it as
// both a p2p.Source (via Messages) and a p2p.Sink (via Publish).
func NewMesh(chainID *big.Int) *Mesh {
	return &Mesh{
		chainID:  chainID,
		topic:    fmt.Sprintf("useroppool/%s", chainID.String()),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		limiter:  newPeerLimiter(),
		peers:    make(map[string]*peer),
		inbound:  make(chan Message, 256),
	}
}

// Messages implements Source.
func (m *Mesh) Messages() <-chan Message { return m.inbound }

// ServeHTTP upgrades an inbound HTTP connection to a websocket peer and
// starts reading its gossip.
func (m *Mesh) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("p2p: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	m.addPeer(r.RemoteAddr, conn)
}

// Dial opens an outbound connection to a peer's gossip endpoint.
func (m *Mesh) Dial(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("p2p: dialing %s: %w", url, err)
	}
	m.addPeer(url, conn)
	return nil
}

// Publish implements Sink: it fans msg out to every connected peer,
// tagged with this mesh's topic so the receiving side can filter.
func (m *Mesh) Publish(ctx context.Context, msg Message) error {
	wire := wireMessage{Topic: m.topic, EntryPoint: msg.EntryPoint, Op: msg.Op}

	m.mu.RLock()
	peers := make([]*peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, p := range peers {
		if err := p.write(wire); err != nil {
			log.Warn("p2p: publish to peer failed", "peer", p.id, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}
	return firstErr
}

func (p *peer) write(msg wireMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteJSON(msg)
}

func (m *Mesh) addPeer(id string, conn *websocket.Conn) {
	p := &peer{id: id, conn: conn}
	m.mu.Lock()
	m.peers[id] = p
	m.mu.Unlock()
	metrics.P2PPeerCountGauge.Update(int64(m.PeerCount()))
	go m.readPump(p)
}

func (m *Mesh) removePeer(p *peer) {
	m.mu.Lock()
	delete(m.peers, p.id)
	m.mu.Unlock()
	m.limiter.forget(p.id)
	metrics.P2PPeerCountGauge.Update(int64(m.PeerCount()))
	_ = p.conn.Close()
}

// PeerCount reports how many peers are currently connected, for metrics
// and debug_bundler_* introspection.
func (m *Mesh) PeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// readPump decodes gossip off one peer until its connection breaks,
// dropping anything off-topic or over that peer's rate limit.
func (m *Mesh) readPump(p *peer) {
	defer m.removePeer(p)
	for {
		var msg wireMessage
		if err := p.conn.ReadJSON(&msg); err != nil {
			log.Debug("p2p: peer disconnected", "peer", p.id, "err", err)
			return
		}
		if msg.Topic != m.topic || msg.Op == nil {
			continue
		}
		if !m.limiter.allow(p.id) {
			metrics.P2PRateLimitedMeter.Mark(1)
			log.Warn("p2p: dropping message, peer over rate limit", "peer", p.id)
			continue
		}
		metrics.P2PInboundMeter.Mark(1)
		select {
		case m.inbound <- Message{EntryPoint: msg.EntryPoint, Op: msg.Op}:
		default:
			log.Warn("p2p: inbound buffer full, dropping gossip", "peer", p.id)
		}
	}
}
