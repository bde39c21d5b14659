package danmu

import (
	"context"

	"github.com/gorilla/websocket"
)

// GorillaDialer is the production Dialer, grounded on petervdpas-goop2's
// use of gorilla/websocket for its own media WebSocket (it upgrades
// server-side; here the same library dials client-side instead).
type GorillaDialer struct {
	Headers map[string]string
}

// NewGorillaDialer builds a Dialer with no extra headers.
func NewGorillaDialer() *GorillaDialer {
	return &GorillaDialer{}
}

func (d *GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	header := make(map[string][]string, len(d.Headers))
	for k, v := range d.Headers {
		header[k] = []string{v}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
