package espnow

import (
	"fmt"

	"github.com/samber/oops"
)

// AddrSize is the length of a link-layer address.
const AddrSize = 6

// Addr is a 6-byte link-layer address, the peer identity of the protocol.
type Addr [AddrSize]byte

// BroadcastAddr is the all-ones address that every station receives.
var BroadcastAddr = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

func (a Addr) IsBroadcast() bool {
	return a == BroadcastAddr
}

func (a Addr) IsZero() bool {
	return a == Addr{}
}

// ParseAddr parses a colon-separated hex address such as "aa:bb:cc:dd:ee:01".
func ParseAddr(s string) (Addr, error) {
	var a Addr
	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x", &a[0], &a[1], &a[2], &a[3], &a[4], &a[5])
	if err != nil || n != AddrSize {
		return Addr{}, oops.Errorf("invalid link-layer address %q", s)
	}
	return a, nil
}
