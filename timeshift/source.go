package timeshift

import (
	"fmt"

	"github.com/gorilla/websocket"
)

// MessageStream is one open livestream connection delivering fMP4 chunks as
// discrete messages.
type MessageStream interface {
	// Next blocks for the next chunk of the fMP4 byte stream.
	Next() ([]byte, error)
	Close() error
}

// Opener dials the livestream endpoint for a stream profile. The controller
// delivers its live API over a websocket; tests substitute an in-memory
// stream.
type Opener interface {
	Open(url string) (MessageStream, error)
}

// WebsocketOpener dials the controller's livestream websocket endpoint.
type WebsocketOpener struct {
	Dialer *websocket.Dialer
}

// Open dials url and returns the connection as a MessageStream.
func (o WebsocketOpener) Open(url string) (MessageStream, error) {
	dialer := o.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial livestream %s: %w", url, err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Next() ([]byte, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		// The livestream API only carries media on binary messages.
		if msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
