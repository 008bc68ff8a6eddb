package proxy

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/dogcatcher/authgw/internal/observability"
)

// websocketProxy relays WebSocket connections between the client and
// the route's upstream. The upgrade request has already passed the
// route's verification, so the relay itself is credential-agnostic.
type websocketProxy struct {
	logger observability.Logger
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// proxy dials the upstream, upgrades the client connection, and relays
// frames in both directions until either side closes.
func (wp *websocketProxy) proxy(
	w http.ResponseWriter,
	r *http.Request,
	target *url.URL,
	transport http.RoundTripper,
) error {
	upstreamURL := upstreamWSURL(target, r)

	dialer := websocket.Dialer{}
	if t, ok := transport.(*http.Transport); ok && t != nil && t.TLSClientConfig != nil {
		dialer.TLSClientConfig = t.TLSClientConfig.Clone()
	}

	upstreamConn, resp, err := dialer.DialContext(r.Context(), upstreamURL, forwardedHeaders(r))
	if err != nil {
		wp.writeDialError(w, resp)
		return fmt.Errorf("failed to dial upstream websocket: %w", err)
	}
	defer upstreamConn.Close()

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade client connection: %w", err)
	}
	defer clientConn.Close()

	relay(clientConn, upstreamConn)
	return nil
}

// writeDialError forwards the upstream's handshake rejection to the
// client, or a plain 502 when the dial never got a response.
func (wp *websocketProxy) writeDialError(w http.ResponseWriter, resp *http.Response) {
	if resp == nil {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
}

// relay copies frames between the two connections until either side
// errors, then closes the other side cleanly.
func relay(client, upstream *websocket.Conn) {
	errCh := make(chan error, 2)

	copyFrames := func(dst, src *websocket.Conn) {
		for {
			msgType, msg, err := src.ReadMessage()
			if err != nil {
				_ = dst.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				errCh <- err
				return
			}
			if err := dst.WriteMessage(msgType, msg); err != nil {
				errCh <- err
				return
			}
		}
	}

	go copyFrames(client, upstream)
	go copyFrames(upstream, client)

	<-errCh
}

// upstreamWSURL maps the upstream base URL to its ws/wss equivalent for
// the request path.
func upstreamWSURL(target *url.URL, r *http.Request) string {
	scheme := "ws"
	if target.Scheme == "https" {
		scheme = "wss"
	}

	u := scheme + "://" + target.Host + r.URL.Path
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}

// forwardedHeaders copies the request headers toward the upstream dial,
// minus the handshake headers gorilla manages itself.
func forwardedHeaders(r *http.Request) http.Header {
	header := http.Header{}
	for k, vv := range r.Header {
		switch strings.ToLower(k) {
		case "upgrade", "connection", "sec-websocket-key",
			"sec-websocket-version", "sec-websocket-extensions",
			"sec-websocket-protocol":
			continue
		}
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	return header
}
