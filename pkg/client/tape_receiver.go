package client

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/net/ipv4"
)

// JoinTape opens a UDP socket on the group's port and joins the multicast
// group on the named interface (all multicast-capable interfaces when empty).
func JoinTape(groupAddr, ifname string) (net.PacketConn, error) {
	group, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve tape group %q: %w", groupAddr, err)
	}
	if !group.IP.IsMulticast() {
		return nil, fmt.Errorf("tape group %s is not a multicast address", group.IP)
	}

	conn, err := net.ListenPacket("udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(group.Port)))
	if err != nil {
		return nil, fmt.Errorf("open tape socket: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	ifaces, err := tapeInterfaces(ifname)
	if err != nil {
		conn.Close()
		return nil, err
	}

	joined := 0
	var lastErr error
	for i := range ifaces {
		if err := pc.JoinGroup(&ifaces[i], &net.UDPAddr{IP: group.IP}); err != nil {
			lastErr = err
			continue
		}
		joined++
	}
	if joined == 0 {
		conn.Close()
		return nil, fmt.Errorf("join tape group %s: %w", group.IP, lastErr)
	}
	return conn, nil
}

func tapeInterfaces(name string) ([]net.Interface, error) {
	if name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("tape interface %q: %w", name, err)
		}
		return []net.Interface{*ifi}, nil
	}

	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []net.Interface
	for _, ifi := range all {
		if ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagMulticast != 0 {
			out = append(out, ifi)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no multicast interface is up")
	}
	return out, nil
}
