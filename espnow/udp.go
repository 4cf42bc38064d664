package espnow

import (
	"net"
	"sync"

	"github.com/samber/oops"

	"github.com/enigmaiot/enigmaiot/logger"
	"golang.org/x/net/ipv4"
)

var log = logger.GetLogger()

// Datagram layout on the emulation medium: src(6) ‖ dst(6) ‖ payload(≤MTU).
const udpHeaderSize = 2 * AddrSize

// UDPBind emulates the radio medium over IPv4 multicast so gateways and nodes
// can run as host processes. Every station joins the same group; addressing
// and broadcast are resolved from the datagram header, like the real medium.
type UDPBind struct {
	addr  Addr
	group *net.UDPAddr

	mu     sync.Mutex
	conn   *net.UDPConn
	pc     *ipv4.PacketConn
	closed bool
}

var _ Bind = (*UDPBind)(nil)

// DefaultGroup is the multicast group and port stations join by default.
const DefaultGroup = "239.77.85.1:17320"

// NewUDPBind creates a station on the multicast group. An empty group selects
// DefaultGroup. ifaceName may be empty to let the kernel pick.
func NewUDPBind(addr Addr, group, ifaceName string) (*UDPBind, error) {
	if group == "" {
		group = DefaultGroup
	}
	gaddr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, oops.Errorf("resolving multicast group %q: %w", group, err)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: gaddr.Port})
	if err != nil {
		return nil, oops.Errorf("listening on %d: %w", gaddr.Port, err)
	}
	pc := ipv4.NewPacketConn(conn)
	var iface *net.Interface
	if ifaceName != "" {
		iface, err = net.InterfaceByName(ifaceName)
		if err != nil {
			conn.Close()
			return nil, oops.Errorf("interface %q: %w", ifaceName, err)
		}
	}
	if err := pc.JoinGroup(iface, &net.UDPAddr{IP: gaddr.IP}); err != nil {
		conn.Close()
		return nil, oops.Errorf("joining group %s: %w", gaddr.IP, err)
	}
	// We filter our own frames by source address instead.
	_ = pc.SetMulticastLoopback(true)
	return &UDPBind{addr: addr, group: gaddr, conn: conn, pc: pc}, nil
}

func (b *UDPBind) Open(recv ReceiveFunc) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBindClosed
	}
	conn := b.conn
	b.mu.Unlock()

	go func() {
		buf := make([]byte, udpHeaderSize+MTU+1)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if n < udpHeaderSize || n > udpHeaderSize+MTU {
				continue
			}
			var src, dst Addr
			copy(src[:], buf[:AddrSize])
			copy(dst[:], buf[AddrSize:udpHeaderSize])
			if src == b.addr {
				continue
			}
			if dst != b.addr && !dst.IsBroadcast() {
				continue
			}
			payload := make([]byte, n-udpHeaderSize)
			copy(payload, buf[udpHeaderSize:n])
			recv(src, payload)
		}
	}()
	return nil
}

func (b *UDPBind) Send(dst Addr, payload []byte) error {
	if len(payload) > MTU {
		return oops.Wrapf(ErrFrameTooLarge, "%d bytes", len(payload))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBindClosed
	}
	datagram := make([]byte, 0, udpHeaderSize+len(payload))
	datagram = append(datagram, b.addr[:]...)
	datagram = append(datagram, dst[:]...)
	datagram = append(datagram, payload...)
	if _, err := b.conn.WriteToUDP(datagram, b.group); err != nil {
		log.WithError(err).WithField("dst", dst).Debug("udp bind send failed")
		return oops.Errorf("sending to %s: %w", dst, err)
	}
	return nil
}

func (b *UDPBind) Addr() Addr { return b.addr }

func (b *UDPBind) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.conn.Close()
}
