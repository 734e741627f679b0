package core

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/vovakirdan/cinemate-server/internal/utils"
)

var (
	// ErrPeerClosed is returned when sending to a closed connection.
	ErrPeerClosed = errors.New("peer closed")
	// ErrSlowConsumer is returned when a connection's outbound queue is full.
	ErrSlowConsumer = errors.New("slow consumer")
)

// CloseReason tells the transport why a peer was closed.
type CloseReason string

const (
	CloseNormal     CloseReason = "closing"
	CloseKicked     CloseReason = "kicked"
	CloseSuperseded CloseReason = "superseded"
	CloseSendFailed CloseReason = "send failed"
	CloseShutdown   CloseReason = "shutdown"
)

// Peer is the live handle of one open connection in a room.
// Outbound payloads are queued and written by the transport's writer.
type Peer struct {
	ID     string
	RoomID string
	UserID string

	out  chan []byte
	done chan struct{}

	closeOnce sync.Once
	reason    CloseReason
	released  atomic.Bool
}

// NewPeer constructs a peer with an outbound queue of the given size.
func NewPeer(roomID, userID string, buffer int) *Peer {
	if buffer < 1 {
		buffer = 1
	}
	return &Peer{
		ID:     utils.NewID(),
		RoomID: roomID,
		UserID: userID,
		out:    make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// Send queues data without blocking.
func (p *Peer) Send(data []byte) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	select {
	case p.out <- data:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Outbound yields queued payloads in order.
func (p *Peer) Outbound() <-chan []byte {
	return p.out
}

// Done is closed once the peer is closed.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Close marks the peer closed. Only the first reason is kept.
func (p *Peer) Close(reason CloseReason) {
	p.closeOnce.Do(func() {
		p.reason = reason
		close(p.done)
	})
}

// CloseReason returns the reason passed to the first Close call.
func (p *Peer) CloseReason() CloseReason {
	select {
	case <-p.done:
		return p.reason
	default:
		return ""
	}
}

// claimRelease returns true exactly once; the winner runs disconnect cleanup.
func (p *Peer) claimRelease() bool {
	return p.released.CompareAndSwap(false, true)
}
