// ABOUTME: Discovers a free loopback TCP port for the agent daemon to bind.
// ABOUTME: Binds an ephemeral port, reads it back, and releases the socket immediately.

package ports

import (
	"fmt"
	"net"
)

// Allocate binds a listener on an OS-assigned loopback port, records the
// port number, and closes the listener. There is an accepted race window
// between release and the daemon binding the same port; in practice the OS
// does not hand the port out again that quickly.
func Allocate() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("binding ephemeral port: %w", err)
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address type %T", l.Addr())
	}
	return addr.Port, nil
}
