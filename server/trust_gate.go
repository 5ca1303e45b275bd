package server

import (
	"net"
	"net/netip"

	"github.com/pkg/errors"
)

// TrustGate admits connections only from the proxies that are allowed to vouch for players.
// It is immutable once built.
type TrustGate struct {
	addrs map[netip.Addr]struct{}
}

// NewTrustGate parses each entry as an IP address or ip:port, in which case only the IP is used.
// Entries may hold several comma or newline separated addresses. No entries means every peer is trusted.
func NewTrustGate(entries []string) (*TrustGate, error) {
	entries = SplitAddressList(entries)
	addrs := make(map[netip.Addr]struct{}, len(entries))
	for _, entry := range entries {
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			addrPort, portErr := netip.ParseAddrPort(entry)
			if portErr != nil {
				return nil, errors.Wrapf(err, "invalid trusted address %q", entry)
			}
			addr = addrPort.Addr()
		}
		// Before comparison, need to unmap addresses such as
		// ::ffff:127.0.0.1
		addrs[addr.Unmap()] = struct{}{}
	}
	return &TrustGate{addrs: addrs}, nil
}

func (g *TrustGate) AllowsAll() bool {
	return len(g.addrs) == 0
}

// Trusted is an exact match on the peer IP. Addresses that are not IP based are only trusted
// when the gate allows all.
func (g *TrustGate) Trusted(peer net.Addr) bool {
	if g.AllowsAll() {
		return true
	}

	addr, ok := peerAddr(peer)
	if !ok {
		return false
	}
	_, found := g.addrs[addr]
	return found
}

func peerAddr(peer net.Addr) (netip.Addr, bool) {
	switch a := peer.(type) {
	case *net.TCPAddr:
		addrPort := a.AddrPort()
		return addrPort.Addr().Unmap(), addrPort.Addr().IsValid()
	case nil:
		return netip.Addr{}, false
	default:
		addrPort, err := netip.ParseAddrPort(peer.String())
		if err != nil {
			return netip.Addr{}, false
		}
		return addrPort.Addr().Unmap(), true
	}
}
