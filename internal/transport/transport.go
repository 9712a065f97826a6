// Package transport wraps the two single-socket UDP endpoints the engine
// needs: a Receiver bound to a fixed local port with a short read timeout,
// and a Sender that targets the complementary fixed port and caches the
// last-resolved destination.
package transport

import (
	"fmt"
	"net"
	"time"

	"udpflow/internal/config"
)

// Receiver binds a UDP socket and yields (source IP, payload) pairs,
// unblocking every RecvSocketTimeout so callers can observe a shutdown flag.
type Receiver struct {
	conn *net.UDPConn
}

// NewReceiver binds the given port on all interfaces.
func NewReceiver(port int) (*Receiver, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("resolve listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp :%d: %w", port, err)
	}
	_ = conn.SetReadBuffer(config.DefaultReadBuffer)
	return &Receiver{conn: conn}, nil
}

// ListenForPackets blocks up to RecvSocketTimeout. On timeout it returns
// ("", nil, nil) so the ingress loop can check its stop flag. Any other
// read error is returned as a fatal condition.
func (r *Receiver) ListenForPackets() (sourceIP string, data []byte, err error) {
	buf := make([]byte, config.PacketLen)
	_ = r.conn.SetReadDeadline(time.Now().Add(config.RecvSocketTimeout))
	n, addr, err := r.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("recvfrom: %w", err)
	}
	return addr.IP.String(), buf[:n], nil
}

// Close releases the socket.
func (r *Receiver) Close() error { return r.conn.Close() }

// Sender opens an unbound UDP socket and sends to whatever IP was last set
// via SetDestIP, on a fixed target port.
type Sender struct {
	conn     *net.UDPConn
	destPort int
	destIP   string
	destAddr *net.UDPAddr
}

// NewSender opens a UDP socket with no local bind.
func NewSender(destPort int) (*Sender, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("open send socket: %w", err)
	}
	_ = conn.SetWriteBuffer(config.DefaultWriteBuffer)
	return &Sender{conn: conn, destPort: destPort}, nil
}

// SetDestIP caches the destination IP and only re-resolves the sockaddr
// when the string actually changes.
func (s *Sender) SetDestIP(ip string) error {
	if ip == s.destIP && s.destAddr != nil {
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", ip, s.destPort))
	if err != nil {
		return fmt.Errorf("resolve dest addr %q: %w", ip, err)
	}
	s.destIP = ip
	s.destAddr = addr
	return nil
}

// SendPacket pushes a datagram to the last-set destination IP. Failures are
// reported but non-fatal: the caller's retry/resend logic recovers lost
// sends the same way it recovers lost deliveries.
func (s *Sender) SendPacket(data []byte) bool {
	if s.destAddr == nil {
		return false
	}
	_, err := s.conn.WriteToUDP(data, s.destAddr)
	return err == nil
}

// Close releases the socket.
func (s *Sender) Close() error { return s.conn.Close() }
