// Package udpsock provides the OS-level multicast socket primitives the
// transport engine builds on: send-socket and receive-socket
// construction, TTL and loopback configuration, cancellable waits for
// readability, and vectored send.
//
// Grounded on the golang.org/x/net/ipv4.PacketConn usage in
// rcarmo-codebits-tv/internal/mcast (JoinGroup, SetMulticastTTL,
// SetMulticastLoopback, SetMulticastInterface) and on the
// syscall.RawConn SO_REUSEADDR/SO_REUSEPORT control-callback idiom used
// there and in therealutkarshpriyadarshi-network/pkg/udp.
package udpsock

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// MinHealthyRecvBuffer is the kernel receive buffer size below which the
// transport engine emits a one-shot warning when carrying large
// messages.
const MinHealthyRecvBuffer = 256 * 1024

// SendSocket is a multicast send socket: it targets the group, sets TTL
// and loopback, and exposes vectored datagram send. It does not join the
// group.
type SendSocket struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	dest *net.UDPAddr
}

// NewSendSocket creates a send socket bound to an ephemeral local port,
// targeting group:port. ttl follows the documented policy: 0 = local
// host only, 1 = local network, >1 discouraged. ifaceName, if non-empty,
// pins the outgoing multicast interface.
func NewSendSocket(group netip.Addr, port uint16, ttl int, ifaceName string) (*SendSocket, error) {
	dest := &net.UDPAddr{IP: group.AsSlice(), Port: int(port)}

	conn, err := net.DialUDP("udp4", nil, dest)
	if err != nil {
		return nil, fmt.Errorf("udpsock: dial send socket: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("udpsock: set multicast ttl: %w", err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("udpsock: set multicast loopback: %w", err)
	}
	if ifaceName != "" {
		ifi, err := net.InterfaceByName(ifaceName)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("udpsock: resolve interface %q: %w", ifaceName, err)
		}
		if err := pc.SetMulticastInterface(ifi); err != nil {
			conn.Close()
			return nil, fmt.Errorf("udpsock: set multicast interface: %w", err)
		}
	}

	return &SendSocket{conn: conn, pc: pc, dest: dest}, nil
}

// KernelSendBufferBytes reports the kernel's send buffer size for this
// socket, for diagnostic purposes.
func (s *SendSocket) KernelSendBufferBytes() (int, error) {
	return kernelBufferBytes(s.conn, unix.SO_SNDBUF)
}

// SendVectored writes up to three slices as a single datagram by
// concatenating them into a scratch buffer before the write. The
// standard library's UDP API does not expose a portable vectored
// sendmsg with control headers, so this composes the slices rather than
// using writev; see DESIGN.md for why no pack dependency better serves
// this primitive.
func (s *SendSocket) SendVectored(slice0, slice1, slice2 []byte) error {
	total := len(slice0) + len(slice1) + len(slice2)
	buf := make([]byte, 0, total)
	buf = append(buf, slice0...)
	buf = append(buf, slice1...)
	buf = append(buf, slice2...)

	n, err := s.conn.Write(buf)
	if err != nil {
		return fmt.Errorf("udpsock: send: %w", err)
	}
	if n != total {
		return fmt.Errorf("udpsock: short send: wrote %d of %d bytes", n, total)
	}
	return nil
}

// Close releases the send socket's resources.
func (s *SendSocket) Close() error {
	_ = s.pc.Close()
	return s.conn.Close()
}

// RecvSocket is a multicast receive socket: binds to the multicast port,
// joins the group, enables address/port reuse, and supports cancellable,
// deadline-based waits for readability.
type RecvSocket struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
}

// NewRecvSocket binds to port on all interfaces and joins group. If
// ifaceName is empty, the first up, multicast-capable, non-loopback
// interface is used. recvBufferHint, if nonzero, requests a kernel
// receive buffer of that size.
func NewRecvSocket(group netip.Addr, port uint16, ifaceName string, recvBufferHint int) (*RecvSocket, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
					ctrlErr = e
					return
				}
				if runtime.GOOS != "windows" {
					if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); e != nil {
						ctrlErr = e
					}
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	pconn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("udpsock: listen: %w", err)
	}
	conn, ok := pconn.(*net.UDPConn)
	if !ok {
		pconn.Close()
		return nil, fmt.Errorf("udpsock: unexpected PacketConn type %T", pconn)
	}

	if recvBufferHint > 0 {
		_ = conn.SetReadBuffer(recvBufferHint)
	}

	pc := ipv4.NewPacketConn(conn)

	ifi, err := resolveInterface(ifaceName)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group.AsSlice()}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("udpsock: join group %s on %v: %w", group, ifi, err)
	}
	_ = pc.SetMulticastLoopback(true)

	return &RecvSocket{conn: conn, pc: pc}, nil
}

func resolveInterface(name string) (*net.Interface, error) {
	if name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("udpsock: resolve interface %q: %w", name, err)
		}
		return ifi, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("udpsock: list interfaces: %w", err)
	}
	for i := range ifaces {
		ii := ifaces[i]
		if ii.Flags&net.FlagUp != 0 && ii.Flags&net.FlagMulticast != 0 && ii.Flags&net.FlagLoopback == 0 {
			return &ii, nil
		}
	}
	// Fall back to loopback so single-host tests still work.
	for i := range ifaces {
		ii := ifaces[i]
		if ii.Flags&net.FlagMulticast != 0 {
			return &ii, nil
		}
	}
	return nil, fmt.Errorf("udpsock: no multicast-capable interface found")
}

// KernelRecvBufferBytes reports the kernel's receive buffer size for
// this socket.
func (s *RecvSocket) KernelRecvBufferBytes() (int, error) {
	return kernelBufferBytes(s.conn, unix.SO_RCVBUF)
}

// WaitForData arms the socket's read deadline so the next RecvInto
// blocks until data arrives, the deadline elapses, or the socket is
// closed from another execution context. timeout < 0 waits indefinitely
// (no deadline); timeout == 0 polls (deadline in the past); timeout > 0
// waits up to that duration.
//
// Go's net package has no separate "wait for readable, then read"
// syscall pair portable across platforms; SetReadDeadline plus the
// blocking ReadFrom inside RecvInto together implement the same
// cancellable-wait contract as two steps.
func (s *RecvSocket) WaitForData(timeout time.Duration) error {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	return s.conn.SetReadDeadline(deadline)
}

// RecvInto reads one datagram into buf, returning the byte count, the
// sender's address, and the receive timestamp. The timestamp is a local
// time taken immediately after the read; kernel per-packet receive
// timestamps are neither enabled nor read.
func (s *RecvSocket) RecvInto(buf []byte) (int, netip.AddrPort, time.Time, error) {
	n, cm, addr, err := s.pc.ReadFrom(buf)
	now := time.Now()
	if err != nil {
		return 0, netip.AddrPort{}, now, err
	}
	_ = cm // control message (e.g. kernel timestamp) not portable across platforms

	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, netip.AddrPort{}, now, fmt.Errorf("udpsock: unexpected addr type %T", addr)
	}
	ap := udpAddr.AddrPort()
	return n, ap, now, nil
}

// Close releases the receive socket's resources. A RecvInto blocked in
// another execution context returns an error once Close completes.
func (s *RecvSocket) Close() error {
	_ = s.pc.Close()
	return s.conn.Close()
}

func kernelBufferBytes(conn *net.UDPConn, opt int) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var size int
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		size, sockErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, opt)
	})
	if err != nil {
		return 0, err
	}
	return size, sockErr
}
