package vrc

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/vrc-chatbox/bridge/internal/osc"
)

type emitted struct {
	event   string
	payload any
}

type captureEmitter struct {
	ch chan emitted
}

func newCaptureEmitter() *captureEmitter {
	return &captureEmitter{ch: make(chan emitted, 16)}
}

func (e *captureEmitter) Emit(event string, payload any) {
	e.ch <- emitted{event, payload}
}

func (e *captureEmitter) next(t *testing.T) emitted {
	t.Helper()
	select {
	case ev := <-e.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return emitted{}
	}
}

func (e *captureEmitter) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-e.ch:
		t.Fatalf("unexpected event %q (%v)", ev.event, ev.payload)
	case <-time.After(d):
	}
}

// freePort grabs an ephemeral loopback UDP port and releases it. Slightly
// racy, but fine for tests.
func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

// waitBound polls until the listener owns its port.
func waitBound(t *testing.T, port int) {
	t.Helper()
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.ListenPacket("udp4", addr)
		if err != nil {
			return
		}
		conn.Close()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("listener never bound its port")
}

func sendDatagram(t *testing.T, port int, msg *osc.Message) {
	t.Helper()
	buf, err := msg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	sendRaw(t, port, buf)
}

func sendRaw(t *testing.T, port int, buf []byte) {
	t.Helper()
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	if _, err := conn.WriteTo(buf, dst); err != nil {
		t.Fatal(err)
	}
}

func muteMessage(v bool) *osc.Message {
	return &osc.Message{
		Addr: "/avatar/parameters/MuteSelf",
		Args: []osc.Arg{osc.Bool(v)},
	}
}

func TestStartIdempotentUnderConcurrency(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := freePort(t)
	em := newCaptureEmitter()
	lis := NewListener(port, em)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lis.Start(ctx)
		}()
	}
	wg.Wait()

	if !lis.Started() {
		t.Fatal("Started() = false after Start")
	}
	waitBound(t, port)

	// Exactly one receive loop means exactly one forwarded event.
	sendDatagram(t, port, muteMessage(true))
	ev := em.next(t)
	if ev.event != EventMute {
		t.Fatalf("event = %q, want %q", ev.event, EventMute)
	}
	if muted, ok := ev.payload.(bool); !ok || !muted {
		t.Fatalf("payload = %v, want true", ev.payload)
	}
	em.expectNone(t, 100*time.Millisecond)
}

func TestListenerFiltersAndSurvivesBadPackets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := freePort(t)
	em := newCaptureEmitter()
	lis := NewListener(port, em)
	lis.Start(ctx)
	waitBound(t, port)

	// None of these may produce an event or kill the loop: a different
	// address, a mute message whose first argument is not a boolean, a
	// bundle, and a malformed packet.
	sendDatagram(t, port, &osc.Message{
		Addr: "/avatar/parameters/VRCEmote",
		Args: []osc.Arg{osc.AsInt32(3)},
	})
	sendDatagram(t, port, &osc.Message{
		Addr: "/avatar/parameters/MuteSelf",
		Args: []osc.Arg{osc.AsString("true")},
	})
	sendRaw(t, port, []byte("#bundle\x00\x00\x00\x00\x00\x00\x00\x00\x01"))
	sendRaw(t, port, []byte("\xff\xfe\xfd"))

	// The loop must still be alive to forward this one.
	sendDatagram(t, port, muteMessage(false))

	ev := em.next(t)
	if ev.event != EventMute {
		t.Fatalf("event = %q, want %q", ev.event, EventMute)
	}
	if muted, ok := ev.payload.(bool); !ok || muted {
		t.Fatalf("payload = %v, want false", ev.payload)
	}
	em.expectNone(t, 100*time.Millisecond)
}

func TestStartAfterBindFailureDoesNotRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Occupy the port so the listener's bind fails.
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	port := conn.LocalAddr().(*net.UDPAddr).Port

	em := newCaptureEmitter()
	lis := NewListener(port, em)
	lis.Start(ctx)

	// The started flag fires on the first call and never reverts, even
	// though the bind failed.
	time.Sleep(50 * time.Millisecond)
	if !lis.Started() {
		t.Fatal("Started() = false after failed bind")
	}
	lis.Start(ctx) // must not panic or rebind
	em.expectNone(t, 50*time.Millisecond)
}
