package marketdata

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

// Sender delivers one encoded tape datagram.
type Sender interface {
	Send(datagram []byte) error
	Close() error
}

type MulticastConfig struct {
	GroupAddr string // host:port of the multicast group
	Interface string // outgoing interface name, empty for the system default
	TTL       int
	Loopback  bool
}

// MulticastSender writes datagrams to an IPv4 multicast group.
type MulticastSender struct {
	conn  net.PacketConn
	pc    *ipv4.PacketConn
	group *net.UDPAddr
}

func NewMulticastSender(cfg MulticastConfig) (*MulticastSender, error) {
	group, err := net.ResolveUDPAddr("udp4", cfg.GroupAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve tape group %q: %w", cfg.GroupAddr, err)
	}
	if !group.IP.IsMulticast() {
		return nil, fmt.Errorf("tape group %s is not a multicast address", group.IP)
	}

	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("open tape socket: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	if cfg.Interface != "" {
		ifi, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("tape interface %q: %w", cfg.Interface, err)
		}
		if err := pc.SetMulticastInterface(ifi); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set multicast interface: %w", err)
		}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 1
	}
	if err := pc.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set multicast ttl: %w", err)
	}
	if err := pc.SetMulticastLoopback(cfg.Loopback); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set multicast loopback: %w", err)
	}

	return &MulticastSender{conn: conn, pc: pc, group: group}, nil
}

func (s *MulticastSender) Send(datagram []byte) error {
	_, err := s.pc.WriteTo(datagram, nil, s.group)
	return err
}

func (s *MulticastSender) Close() error {
	return s.conn.Close()
}

// UDPSender writes datagrams to a single unicast address.
type UDPSender struct {
	conn *net.UDPConn
}

func NewUDPSender(addr string) (*UDPSender, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	return &UDPSender{conn: conn}, nil
}

func (s *UDPSender) Send(datagram []byte) error {
	_, err := s.conn.Write(datagram)
	return err
}

func (s *UDPSender) Close() error {
	return s.conn.Close()
}
