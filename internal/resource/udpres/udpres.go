// Package udpres implements the UDP outbound Resource of §6
// (config_resource_udp_1): a fire-and-forget send-only socket. The
// wire codec itself is out of scope (§1); this is the contract shape
// only, grounded on original_source/cages/.shared/protocol_udp.py's
// connect-once/sendto-per-execute lifecycle.
package udpres

import (
	"net"
	"time"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
)

// Config carries the protocol-specific fields of config_resource_udp_1.
type Config struct {
	Addr string // host:port of the remote peer
}

// Resource is a fire-and-forget pythomnic Resource (§3) over a UDP
// socket: connect dials once, execute sends one datagram.
type Resource struct {
	cfg  Config
	conn *net.UDPConn
}

func New(cfg Config) *Resource { return &Resource{cfg: cfg} }

func (r *Resource) Connect(req *corereq.Request) error {
	addr, err := net.ResolveUDPAddr("udp", r.cfg.Addr)
	if err != nil {
		return classify.ResourceInput("invalid udp address", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return classify.ResourceError("", "", "udp dial failed", true, true, err)
	}
	r.conn = conn
	return nil
}

// Execute sends args[0] ([]byte) as one datagram, bounded by req's
// remaining deadline.
func (r *Resource) Execute(req *corereq.Request, args []any, kwargs map[string]any) (any, error) {
	if len(args) == 0 {
		return nil, classify.ResourceInput("udp execute requires a payload", nil)
	}
	payload, ok := args[0].([]byte)
	if !ok {
		return nil, classify.ResourceInput("udp execute first argument must be []byte", nil)
	}
	r.conn.SetWriteDeadline(time.Now().Add(req.Remain()))
	n, err := r.conn.Write(payload)
	if err != nil {
		return nil, classify.ResourceError("", "", "udp send failed", true, true, err)
	}
	return n, nil
}

func (r *Resource) Disconnect() {
	if r.conn != nil {
		r.conn.Close()
	}
}
