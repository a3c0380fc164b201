// Copyright 2022 The notifyrelay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package subscription

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// websocketTransport implements Transport over a WebSocket connection
type websocketTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// GetWebSocketTransport wrap an upgraded WebSocket connection
//
// Inbound frames larger than maxInboundBytes terminate the connection.
func GetWebSocketTransport(
	conn *websocket.Conn, writeTimeout time.Duration, maxInboundBytes int64,
) Transport {
	conn.SetReadLimit(maxInboundBytes)
	return &websocketTransport{conn: conn, writeTimeout: writeTimeout}
}

// Send write one payload as a text frame
func (t *websocketTransport) Send(payload []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

// WaitForClose read and discard client frames until the connection ends
func (t *websocketTransport) WaitForClose() error {
	for {
		if _, _, err := t.conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
			) {
				return nil
			}
			return err
		}
	}
}

// Close send a close frame and drop the connection
func (t *websocketTransport) Close() error {
	t.closeOnce.Do(func() {
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
