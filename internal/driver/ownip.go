package driver

import (
	"fmt"
	"net"
)

// OwnIP discovers the machine's outbound IPv4 address by dialing a UDP
// socket toward a well-known external address and reading back the local
// endpoint it was bound to. No packet ever leaves the socket (UDP dial
// just resolves routing), so this works without internet connectivity.
func OwnIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("discover own ip: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("discover own ip: unexpected local addr type")
	}
	return addr.IP.String(), nil
}
