// Package wsbridge carries frame-tree traffic over WebSocket connections so
// that frames can be hosted outside the capturing process, for instance by
// a browser extension holding an isolated cross-origin frame.
//
// Every WebSocket text message is an Envelope. A peer registers under one
// address when it connects; envelopes for that address are written to it
// and everything it sends is routed by the envelope's To field.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/adityalohuni/snapfile/internal/frametree"
)

var ErrAddressInUse = errors.New("wsbridge: address already connected")

type Envelope struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// Bridge is a frametree.Channel. Addresses held by connected peers are
// served over their connection; all others by an in-process bus.
type Bridge struct {
	local     *frametree.Bus
	mu        sync.RWMutex
	peers     map[string]*Peer
	upgrader  websocket.Upgrader
	writeWait time.Duration
	logger    *zap.Logger
}

type Options struct {
	CheckOrigin     func(*http.Request) bool
	ReadBufferSize  int
	WriteBufferSize int
	WriteWait       time.Duration
	Logger          *zap.Logger
}

// Peer is a connected remote frame host.
type Peer struct {
	Address     string
	conn        *websocket.Conn
	mu          sync.Mutex
	RemoteAddr  string
	UserAgent   string
	ConnectedAt time.Time
	lastSeen    time.Time
}

func NewBridge(opts Options) *Bridge {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	if up.ReadBufferSize == 0 {
		up.ReadBufferSize = 4096
	}
	if up.WriteBufferSize == 0 {
		up.WriteBufferSize = 4096
	}
	writeWait := opts.WriteWait
	if writeWait == 0 {
		writeWait = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		local:     frametree.NewBus(),
		peers:     make(map[string]*Peer),
		upgrader:  up,
		writeWait: writeWait,
		logger:    logger,
	}
}

func (b *Bridge) Listen(addr string) (<-chan string, func()) {
	return b.local.Listen(addr)
}

func (b *Bridge) Post(ctx context.Context, to, msg string) error {
	b.mu.RLock()
	peer := b.peers[to]
	b.mu.RUnlock()
	if peer == nil {
		return b.local.Post(ctx, to, msg)
	}
	trace(b.logger, "to peer", to, msg)
	return peer.write(Envelope{To: to, Data: msg}, b.writeWait)
}

// HandleWS accepts a peer. The address query parameter names it; a random
// one is assigned when it is missing.
func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("address")
	if addr == "" {
		addr = uuid.New().String()
	}
	b.mu.RLock()
	_, taken := b.peers[addr]
	b.mu.RUnlock()
	if taken {
		http.Error(w, ErrAddressInUse.Error(), http.StatusConflict)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	now := time.Now()
	peer := &Peer{
		Address:     addr,
		conn:        conn,
		RemoteAddr:  r.RemoteAddr,
		UserAgent:   r.UserAgent(),
		ConnectedAt: now,
		lastSeen:    now,
	}

	b.mu.Lock()
	if _, taken := b.peers[addr]; taken {
		b.mu.Unlock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ErrAddressInUse.Error()))
		conn.Close()
		return
	}
	b.peers[addr] = peer
	b.mu.Unlock()

	b.logger.Info("peer connected", zap.String("address", addr), zap.String("remote", r.RemoteAddr))
	b.readLoop(r.Context(), peer)

	b.mu.Lock()
	delete(b.peers, addr)
	b.mu.Unlock()
	conn.Close()
	b.logger.Info("peer disconnected", zap.String("address", addr))
}

func (b *Bridge) readLoop(ctx context.Context, peer *Peer) {
	for {
		_, message, err := peer.conn.ReadMessage()
		if err != nil {
			return
		}
		peer.mu.Lock()
		peer.lastSeen = time.Now()
		peer.mu.Unlock()

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.To == "" {
			b.logger.Debug("invalid envelope", zap.String("address", peer.Address), zap.Error(err))
			continue
		}
		trace(b.logger, "from peer", env.To, env.Data)
		if err := b.Post(ctx, env.To, env.Data); err != nil {
			b.logger.Debug("undeliverable envelope", zap.String("from", peer.Address), zap.String("to", env.To), zap.Error(err))
		}
	}
}

func (p *Peer) write(env Envelope, wait time.Duration) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wait))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("wsbridge: write to %s: %w", p.Address, err)
	}
	return nil
}

type PeerInfo struct {
	Address     string    `json:"address"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

func (b *Bridge) ListPeers() []PeerInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PeerInfo, 0, len(b.peers))
	for addr, p := range b.peers {
		p.mu.Lock()
		out = append(out, PeerInfo{
			Address:     addr,
			RemoteAddr:  p.RemoteAddr,
			UserAgent:   p.UserAgent,
			ConnectedAt: p.ConnectedAt,
			LastSeen:    p.lastSeen,
		})
		p.mu.Unlock()
	}
	return out
}

// Disconnect closes the connection of the peer holding addr.
func (b *Bridge) Disconnect(addr string) bool {
	b.mu.RLock()
	p := b.peers[addr]
	b.mu.RUnlock()
	if p == nil {
		return false
	}
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "disconnected"), time.Now().Add(b.writeWait))
	_ = p.conn.Close()
	return true
}

func (b *Bridge) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.peers)
}
