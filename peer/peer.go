// Package peer defines the peer descriptor (identifier + network address)
// shared by the routing table, storage, RPC, and operation-engine packages.
package peer

import (
	"fmt"
	"net"

	multiaddr "github.com/multiformats/go-multiaddr"

	"github.com/PabloMansanet/subotai/id"
)

// Addr wraps a multiaddr.Multiaddr as the socket address half of a peer
// descriptor. Using multiaddr instead of a bare net.UDPAddr lets addresses
// round-trip through the wire encoding as an opaque, self-describing byte
// string (grounded on go-libp2p's own convention of passing addresses
// around as multiaddr.Multiaddr values).
type Addr struct {
	ma multiaddr.Multiaddr
}

// NewAddr builds an Addr from a UDP host/port pair.
func NewAddr(host string, port int) (Addr, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return Addr{}, fmt.Errorf("peer: resolving %q: %w", host, err)
		}
		ip = resolved.IP
	}

	proto := "ip4"
	if ip.To4() == nil {
		proto = "ip6"
	}
	s := fmt.Sprintf("/%s/%s/udp/%d", proto, ip.String(), port)
	ma, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		return Addr{}, fmt.Errorf("peer: building multiaddr from %q: %w", s, err)
	}
	return Addr{ma: ma}, nil
}

// FromUDPAddr builds an Addr from a resolved net.UDPAddr, as observed by the
// transport on packet reception.
func FromUDPAddr(addr *net.UDPAddr) (Addr, error) {
	return NewAddr(addr.IP.String(), addr.Port)
}

// FromBytes decodes an Addr previously produced by Bytes.
func FromBytes(b []byte) (Addr, error) {
	ma, err := multiaddr.NewMultiaddrBytes(b)
	if err != nil {
		return Addr{}, fmt.Errorf("peer: decoding address: %w", err)
	}
	return Addr{ma: ma}, nil
}

// Bytes returns the wire representation of the address.
func (a Addr) Bytes() []byte {
	if a.ma == nil {
		return nil
	}
	return a.ma.Bytes()
}

// String renders the address in multiaddr textual form, e.g.
// "/ip4/127.0.0.1/udp/4001".
func (a Addr) String() string {
	if a.ma == nil {
		return "<nil>"
	}
	return a.ma.String()
}

// IsZero reports whether the address was never set.
func (a Addr) IsZero() bool {
	return a.ma == nil
}

// UDPAddr resolves the address back to a net.UDPAddr for use with the
// default transport.
func (a Addr) UDPAddr() (*net.UDPAddr, error) {
	if a.ma == nil {
		return nil, fmt.Errorf("peer: empty address")
	}
	host, err := a.ma.ValueForProtocol(multiaddr.P_IP4)
	if err != nil {
		host, err = a.ma.ValueForProtocol(multiaddr.P_IP6)
		if err != nil {
			return nil, fmt.Errorf("peer: address %s has no IP component: %w", a, err)
		}
	}
	portStr, err := a.ma.ValueForProtocol(multiaddr.P_UDP)
	if err != nil {
		return nil, fmt.Errorf("peer: address %s has no UDP component: %w", a, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return nil, fmt.Errorf("peer: address %s has invalid port: %w", a, err)
	}
	return &net.UDPAddr{IP: net.ParseIP(host), Port: port}, nil
}

// WithPort returns a copy of the address with its UDP port component
// replaced. Used by the RPC layer to rewrite a claimed reply port against
// the transport-observed source address.
func (a Addr) WithPort(port int) (Addr, error) {
	udp, err := a.UDPAddr()
	if err != nil {
		return Addr{}, err
	}
	return NewAddr(udp.IP.String(), port)
}

// Info is a peer descriptor: an identifier paired with the network address
// it can be reached at. Equality between descriptors is by ID alone, per
// spec.
type Info struct {
	ID   id.ID
	Addr Addr
}

// Equal reports whether two descriptors name the same peer, ignoring
// address.
func (i Info) Equal(other Info) bool {
	return i.ID == other.ID
}

func (i Info) String() string {
	return fmt.Sprintf("%s@%s", i.ID, i.Addr)
}
