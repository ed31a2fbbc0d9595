package rpc

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsTransport adapts a *websocket.Conn to Transport, grounded directly on
// scm/network.go's "websocket" handler: an upgrade, a background read
// loop invoking onMessage per frame and onClose on *websocket.CloseError,
// and a mutex-guarded send.
type wsTransport struct {
	conn *websocket.Conn

	sendMu sync.Mutex

	mu        sync.Mutex
	onMessage func(data []byte, binary bool)
	onClose   func()
}

// UpgradeTransport upgrades an incoming HTTP request to a websocket
// connection and starts its read loop in the background.
func UpgradeTransport(w http.ResponseWriter, r *http.Request) (Transport, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	t := &wsTransport{conn: conn}
	go t.readLoop()
	return t, nil
}

// DialTransport opens a client-side websocket connection to url.
func DialTransport(url string) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	t := &wsTransport{conn: conn}
	go t.readLoop()
	return t, nil
}

func (t *wsTransport) readLoop() {
	for {
		messageType, msg, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			onClose := t.onClose
			t.mu.Unlock()
			if onClose != nil {
				onClose()
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		t.mu.Lock()
		onMessage := t.onMessage
		t.mu.Unlock()
		if onMessage != nil {
			onMessage(msg, messageType == websocket.BinaryMessage)
		}
	}
}

func (t *wsTransport) Send(data []byte, binary bool) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	frameType := websocket.TextMessage
	if binary {
		frameType = websocket.BinaryMessage
	}
	return t.conn.WriteMessage(frameType, data)
}

func (t *wsTransport) OnMessage(fn func(data []byte, binary bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

func (t *wsTransport) OnClose(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = fn
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
