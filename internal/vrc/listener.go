package vrc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/vrc-chatbox/bridge/internal/osc"
)

// EventMute is emitted when the avatar's self-mute parameter changes.
const EventMute = "vrchat-mute"

// muteParamAddr is the avatar parameter the listener forwards to the host.
const muteParamAddr = "/avatar/parameters/MuteSelf"

// Emitter pushes named events to the host application.
type Emitter interface {
	Emit(event string, payload any)
}

// Listener receives OSC datagrams from VRChat on a fixed loopback port and
// forwards the mute parameter to the host. At most one receiver ever runs
// per process: Start is idempotent, and once the flag is set it never
// reverts, even if the bind fails. Listening again after a bind failure or
// a socket error requires a process restart.
type Listener struct {
	port    int
	emitter Emitter
	started atomic.Bool
}

func NewListener(port int, emitter Emitter) *Listener {
	return &Listener{port: port, emitter: emitter}
}

// Start spawns the background receiver on first call and does nothing on
// every later call. The context bounds the receiver's lifetime.
func (l *Listener) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		err := l.run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("OSC listener stopped: %v", err)
		}
	}()
}

// Started reports whether Start has fired, regardless of whether the bind
// succeeded.
func (l *Listener) Started() bool {
	return l.started.Load()
}

func (l *Listener) run(ctx context.Context) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(l.port))
	conn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	defer conn.Close()
	log.Printf("OSC listener bound to %v", conn.LocalAddr())

	packets := make(chan []byte, 16)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Closing the socket is the only way to unblock ReadFrom.
		<-gctx.Done()
		conn.Close()
		return nil
	})
	g.Go(func() error {
		defer close(packets)
		buf := make([]byte, 1<<16)
		for {
			n, _, err := conn.ReadFrom(buf)
			if n > 0 {
				pkt := make([]byte, n)
				copy(pkt, buf[:n])
				select {
				case packets <- pkt:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Socket-level failure ends the receiver for good.
				return fmt.Errorf("receiving datagram: %w", err)
			}
		}
	})
	g.Go(func() error {
		for pkt := range packets {
			l.dispatch(pkt)
		}
		return nil
	})
	return g.Wait()
}

// dispatch decodes one datagram and forwards the mute parameter. Malformed
// packets and bundles are logged and dropped; they never end the loop.
func (l *Listener) dispatch(pkt []byte) {
	msg, err := osc.Decode(pkt)
	if err != nil {
		if errors.Is(err, osc.ErrBundle) {
			log.Printf("ignoring OSC bundle (%d bytes)", len(pkt))
		} else {
			log.Printf("dropping malformed OSC packet: %v", err)
		}
		return
	}
	if msg.Addr != muteParamAddr {
		return
	}
	if muted, ok := msg.Bool(0); ok {
		l.emitter.Emit(EventMute, muted)
	}
}
