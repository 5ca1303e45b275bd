package server

import (
	"context"
	"net"
	"strconv"
)

type ConnectionNotifier interface {
	// NotifyRejected is called when a login session ends before the backend is dialed, such as a
	// failed verification or a denied player. playerInfo is nil when the identity was never verified.
	NotifyRejected(ctx context.Context,
		clientAddr net.Addr, serverAddress string, playerInfo *PlayerInfo, err error) error

	// NotifyFailedBackendConnection is called when the backend connection failed.
	NotifyFailedBackendConnection(ctx context.Context,
		clientAddr net.Addr, serverAddress string, playerInfo *PlayerInfo, backendHostPort string, err error) error

	// NotifyConnected is called when the backend connection succeeded.
	NotifyConnected(ctx context.Context,
		clientAddr net.Addr, serverAddress string, playerInfo *PlayerInfo, backendHostPort string) error

	// NotifyDisconnected is called when a relayed session has ended.
	NotifyDisconnected(ctx context.Context,
		clientAddr net.Addr, serverAddress string, playerInfo *PlayerInfo, backendHostPort string) error
}

type ClientInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func ClientInfoFromAddr(addr net.Addr) *ClientInfo {
	if addr == nil {
		return nil
	}
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return &ClientInfo{Host: tcpAddr.IP.String(), Port: tcpAddr.Port}
	}

	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return &ClientInfo{Host: addr.String()}
	}
	port, _ := strconv.Atoi(portStr)
	return &ClientInfo{Host: host, Port: port}
}

type noopNotifier struct{}

func (noopNotifier) NotifyRejected(context.Context, net.Addr, string, *PlayerInfo, error) error {
	return nil
}

func (noopNotifier) NotifyFailedBackendConnection(context.Context, net.Addr, string, *PlayerInfo, string, error) error {
	return nil
}

func (noopNotifier) NotifyConnected(context.Context, net.Addr, string, *PlayerInfo, string) error {
	return nil
}

func (noopNotifier) NotifyDisconnected(context.Context, net.Addr, string, *PlayerInfo, string) error {
	return nil
}
