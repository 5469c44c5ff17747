package socket

import (
	"errors"
	"net"
)

const listenAttempts = 42
const udpBufferSize = 16 * 1024 * 1024

// NewUDPSocket creates a UDP socket listener on a given port with
// enlarged kernel buffers for media traffic.
func NewUDPSocket(port int) (*net.UDPConn, error) {
	l, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	_ = l.SetReadBuffer(udpBufferSize)
	_ = l.SetWriteBuffer(udpBufferSize)
	return l, nil
}

// NewUDPSocketPortRoll creates a UDP socket listener on the next free port.
// See: NewUDPSocket.
func NewUDPSocketPortRoll(port int) (*net.UDPConn, error) {
	l, err := NewUDPSocket(port)
	if err == nil {
		return l, nil
	}
	for i := port + 1; i < port+listenAttempts; i++ {
		if l, err := NewUDPSocket(i); err == nil {
			return l, nil
		}
	}
	return nil, errors.New("no available ports")
}
