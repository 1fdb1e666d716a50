package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/joripage/mini-exchange/pkg/clock"
	"github.com/joripage/mini-exchange/pkg/logging"
	"github.com/joripage/mini-exchange/pkg/protocol/ogw"
	"github.com/joripage/mini-exchange/pkg/protocol/tape"
	"go.uber.org/zap"
)

type MultiplexerConfig struct {
	MaxPeers int
	Clock    clock.Clock
	// OnExecution, when set, is called from the dispatch loop after each
	// acknowledged execution.
	OnExecution func(ogw.Notification)
	// OnSnapshot, when set, is called after each reconciled tape datagram.
	OnSnapshot func(tape.Snapshot)
}

// Multiplexer services the execution listener and the tape socket together.
// Socket reads happen in goroutines that only forward what they read; a
// single dispatch loop owns the peer table and the cache.
type Multiplexer struct {
	ln    net.Listener
	tape  net.PacketConn
	cache Cache
	cfg   MultiplexerConfig

	events chan event
	peers  []*peer
}

type peer struct {
	slot int
	conn net.Conn
	ctx  context.Context
	log  *logging.Logger
}

type eventKind int

const (
	evAccepted eventKind = iota
	evAcceptFailed
	evDatagram
	evTapeFailed
	evNotification
	evPeerClosed
	evPeerViolation
)

type event struct {
	kind     eventKind
	conn     net.Conn
	peer     *peer
	datagram []byte
	note     ogw.Notification
	err      error
}

func NewMultiplexer(ln net.Listener, tapeConn net.PacketConn, cache Cache, cfg MultiplexerConfig) *Multiplexer {
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = 64
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Default
	}
	return &Multiplexer{
		ln:     ln,
		tape:   tapeConn,
		cache:  cache,
		cfg:    cfg,
		events: make(chan event),
		peers:  make([]*peer, cfg.MaxPeers),
	}
}

// Run dispatches events until ctx ends or a listener-level failure occurs.
// Failures of a single peer or datagram are logged and do not stop it.
func (m *Multiplexer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		m.ln.Close()
		if m.tape != nil {
			m.tape.Close()
		}
		for _, p := range m.peers {
			if p != nil {
				m.drop(p)
			}
		}
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.acceptLoop(ctx)
	}()
	if m.tape != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.tapeLoop(ctx)
		}()
	}

	for {
		var ev event
		select {
		case <-ctx.Done():
			return nil
		case ev = <-m.events:
		}

		switch ev.kind {
		case evAccepted:
			p, err := m.register(ctx, ev.conn)
			if err != nil {
				ev.conn.Close()
				return err
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.peerLoop(ctx, p)
			}()
		case evAcceptFailed:
			return fmt.Errorf("accept: %w", ev.err)
		case evTapeFailed:
			return fmt.Errorf("read tape: %w", ev.err)
		case evDatagram:
			m.handleDatagram(ctx, ev.datagram)
		case evNotification:
			m.handleNotification(ev.peer, ev.note)
		case evPeerClosed:
			ev.peer.log.Debug(ev.peer.ctx, "peer closed")
			m.drop(ev.peer)
		case evPeerViolation:
			ev.peer.log.Warn(ev.peer.ctx, "dropping peer", zap.Error(ev.err))
			m.drop(ev.peer)
		}
	}
}

func (m *Multiplexer) emit(ctx context.Context, ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Multiplexer) acceptLoop(ctx context.Context) {
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				m.emit(ctx, event{kind: evAcceptFailed, err: err})
			}
			return
		}
		if !m.emit(ctx, event{kind: evAccepted, conn: conn}) {
			conn.Close()
			return
		}
	}
}

func (m *Multiplexer) tapeLoop(ctx context.Context) {
	buf := make([]byte, tape.MaxDatagramSize)
	for {
		n, _, err := m.tape.ReadFrom(buf)
		if err != nil {
			if ctx.Err() == nil {
				m.emit(ctx, event{kind: evTapeFailed, err: err})
			}
			return
		}
		datagram := append([]byte(nil), buf[:n]...)
		if !m.emit(ctx, event{kind: evDatagram, datagram: datagram}) {
			return
		}
	}
}

// peerLoop reads fixed-size notifications until the peer goes away.
func (m *Multiplexer) peerLoop(ctx context.Context, p *peer) {
	for {
		note, err := ogw.ReadNotification(p.conn)
		switch {
		case err == nil:
			if !m.emit(ctx, event{kind: evNotification, peer: p, note: note}) {
				return
			}
			continue
		case isPeerClosed(err):
			m.emit(ctx, event{kind: evPeerClosed, peer: p})
		default:
			m.emit(ctx, event{kind: evPeerViolation, peer: p, err: err})
		}
		return
	}
}

func isPeerClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET)
}

// register puts conn in the first free slot.
func (m *Multiplexer) register(ctx context.Context, conn net.Conn) (*peer, error) {
	for i, p := range m.peers {
		if p != nil {
			continue
		}
		pctx := logging.NewRequestContext(ctx)
		log, pctx := logging.GetLogger(pctx)
		np := &peer{slot: i, conn: conn, ctx: pctx, log: log}
		m.peers[i] = np
		log.Debug(pctx, "peer connected", zap.Int("slot", i), zap.String("remote", conn.RemoteAddr().String()))
		return np, nil
	}
	zap.S().Errorw("no free peer slot", "max_peers", len(m.peers), "remote", conn.RemoteAddr().String())
	return nil, ErrPeerTableFull
}

func (m *Multiplexer) drop(p *peer) {
	if m.peers[p.slot] == p {
		m.peers[p.slot] = nil
	}
	_ = p.conn.Close()
}

// Peers is the number of occupied slots. Only safe from the dispatch loop or
// after Run returned.
func (m *Multiplexer) Peers() int {
	n := 0
	for _, p := range m.peers {
		if p != nil {
			n++
		}
	}
	return n
}

func (m *Multiplexer) handleNotification(p *peer, note ogw.Notification) {
	if m.peers[p.slot] != p {
		return
	}

	ack := ogw.Ack{OrderID: note.OrderID, TsAck: m.cfg.Clock.Now(), Status: ogw.StatusAcknowledged}
	if err := ogw.WriteAck(p.conn, ack); err != nil {
		p.log.Warn(p.ctx, "send ack failed", zap.Uint64("order_id", note.OrderID), zap.Error(err))
		m.drop(p)
		return
	}
	if cw, ok := p.conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	if m.cache != nil {
		if err := m.cache.RemoveMine(p.ctx, note.OrderID); err != nil {
			p.log.Warn(p.ctx, "executed order still cached", zap.Uint64("order_id", note.OrderID), zap.Error(err))
		}
	}

	p.log.Info(p.ctx, "execution acknowledged",
		zap.Uint64("order_id", note.OrderID),
		zap.Uint64("ts_placed", note.TsPlaced),
		zap.Uint64("ts_executed", note.TsExecuted),
		zap.Uint64("ts_ack", ack.TsAck),
	)
	if m.cfg.OnExecution != nil {
		m.cfg.OnExecution(note)
	}
}

func (m *Multiplexer) handleDatagram(ctx context.Context, datagram []byte) {
	snap, err := tape.Decode(datagram)
	if err != nil {
		zap.S().Warnw("dropping tape datagram", "bytes", len(datagram), "err", err)
		return
	}
	if m.cache != nil {
		pruned, err := Reconcile(ctx, m.cache, snap)
		if err != nil {
			zap.S().Errorw("reconcile tape failed", "counter", snap.Counter, "err", err)
			return
		}
		zap.S().Debugw("tape reconciled", "counter", snap.Counter, "orders", len(snap.Entries), "pruned", pruned)
	}
	if m.cfg.OnSnapshot != nil {
		m.cfg.OnSnapshot(snap)
	}
}
