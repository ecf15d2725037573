package server

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// WebSocketConn is the connection surface the server loops need, so tests
// can substitute a fake connection.
type WebSocketConn interface {
	io.Closer
	WriteJSON(v any) error
	ReadJSON(v any) error
}

var upgrader = websocket.Upgrader{
	CheckOrigin: originAllowed,
}

// originAllowed accepts same-origin requests, localhost, and clients on
// private networks. The monitor runs on a LAN appliance; public origins
// are rejected.
func originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients and same-origin requests omit the header.
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		slog.Warn("rejected WebSocket origin", "origin", origin, "error", err)
		return false
	}
	host := u.Hostname()

	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost {
		return true
	}

	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	slog.Warn("rejected WebSocket origin", "origin", origin, "host", host)
	return false
}

// UpgradeConnection upgrades an HTTP request to a WebSocket connection.
func UpgradeConnection(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}
