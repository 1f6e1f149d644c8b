// Package net provides the address parsing and dial/listen helpers ircd and
// ircchat use to talk TCP; it wraps the stdlib net package the way the
// teacher's did, trimmed to the TCP-only surface this protocol exercises.
package net

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// AddrInfo contains address and port information
type AddrInfo struct {
	Addr string
	Port string
}

// ParseAddress parses an address string into host and port components.
// Supports "host:port" and the IPv6 "[host]:port" form.
func ParseAddress(addr string) (host, port string, err error) {
	// Check for IPv6 addresses [host]:port
	if strings.HasPrefix(addr, "[") {
		endBracket := strings.Index(addr, "]")
		if endBracket == -1 {
			return "", "", fmt.Errorf("invalid IPv6 address format: %s", addr)
		}
		host = addr[1:endBracket]
		if len(addr) > endBracket+1 && addr[endBracket+1] == ':' {
			port = addr[endBracket+2:]
		}
		return host, port, nil
	}

	// Regular host:port format
	lastColon := strings.LastIndex(addr, ":")
	if lastColon == -1 {
		// No port specified
		return addr, "", nil
	}

	host = addr[:lastColon]
	port = addr[lastColon+1:]
	return host, port, nil
}

// TCPConnect establishes a TCP connection to the given address with timeout
func TCPConnect(addr string, timeout time.Duration) (net.Conn, error) {
	host, port, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}

	var netAddr string
	if port != "" {
		netAddr = net.JoinHostPort(host, port)
	} else {
		netAddr = host
	}

	dialer := &net.Dialer{
		Timeout: timeout,
	}

	conn, err := dialer.Dial("tcp", netAddr)
	if err != nil {
		return nil, fmt.Errorf("TCP connect to %s failed: %w", netAddr, err)
	}

	return conn, nil
}

// TCPListen creates a TCP listening socket on the given address
func TCPListen(addr string, backlog int) (net.Listener, *AddrInfo, error) {
	host, port, err := ParseAddress(addr)
	if err != nil {
		return nil, nil, err
	}

	// If no port specified, use random port
	if port == "" {
		port = "0"
	}

	listenAddr := net.JoinHostPort(host, port)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("TCP listen on %s failed: %w", listenAddr, err)
	}

	// Get the actual address
	tcpAddr := listener.Addr().(*net.TCPAddr)
	addrInfo := &AddrInfo{
		Addr: tcpAddr.IP.String(),
		Port: strconv.Itoa(tcpAddr.Port),
	}

	return listener, addrInfo, nil
}
