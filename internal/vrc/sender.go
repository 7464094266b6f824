// Package vrc talks to a local VRChat client over OSC: one-shot chatbox
// sends out, and a background listener for avatar parameter changes in.
package vrc

import (
	"fmt"
	"net"
	"strconv"

	"github.com/vrc-chatbox/bridge/internal/osc"
)

// Chatbox addresses understood by the VRChat client.
const (
	typingAddr = "/chatbox/typing"
	inputAddr  = "/chatbox/input"
)

// SendTyping fires the chatbox typing indicator at address:port. UDP is
// fire-and-forget: a nil return means the datagram left this host, not
// that VRChat received it.
func SendTyping(address string, port int) error {
	return sendOne(address, port, &osc.Message{
		Addr: typingAddr,
		Args: []osc.Arg{osc.Bool(true)},
	})
}

// SendMessage puts text into the chatbox at address:port. The trailing
// boolean tells VRChat to send immediately instead of opening the keyboard.
func SendMessage(text, address string, port int) error {
	return sendOne(address, port, &osc.Message{
		Addr: inputAddr,
		Args: []osc.Arg{osc.AsString(text), osc.Bool(true)},
	})
}

// sendOne binds an ephemeral local socket, sends a single encoded message
// and discards the socket. No retries, no pooling.
func sendOne(address string, port int, msg *osc.Message) error {
	buf, err := msg.Encode()
	if err != nil {
		return err
	}

	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("resolving %s:%d: %w", address, port, err)
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("binding ephemeral udp socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.WriteTo(buf, dst); err != nil {
		return fmt.Errorf("sending to %v: %w", dst, err)
	}
	return nil
}
