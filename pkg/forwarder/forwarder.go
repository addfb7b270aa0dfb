package forwarder

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/ncode/mattermost-courier/pkg/notify"
)

const dialTimeout = 5 * time.Second

// Forwarder ships a notification request to a running courier ingest
// listener instead of delivering it directly.
type Forwarder interface {
	Forward(req notify.Request) error
}

// SocketForwarder implements Forwarder over a UDP or TCP socket. One
// request is one JSON frame, matching what the listener expects.
type SocketForwarder struct {
	network string
	address string
}

// NewSocketForwarder creates a SocketForwarder for "udp" or "tcp".
func NewSocketForwarder(network, address string) (*SocketForwarder, error) {
	if network != "udp" && network != "tcp" {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	return &SocketForwarder{network: network, address: address}, nil
}

// Forward encodes the request and writes it as a single frame.
func (f *SocketForwarder) Forward(req notify.Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	conn, err := net.DialTimeout(f.network, f.address, dialTimeout)
	if err != nil {
		return fmt.Errorf("dialing %s://%s: %w", f.network, f.address, err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("forwarding request: %w", err)
	}
	return nil
}
