package httpapi

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/equa/scoring-ledger/internal/xlog"
)

// Notifier is the optional push channel supplementing the poll-only
// protocol: already-authenticated auditors connected to
// /ledger/notify get told a new checkpoint or delta was published so
// they may react before their next poll tick. Polling remains the
// source of truth; a dropped or missed notification changes nothing
// about correctness, only latency.
type Notifier struct {
	upgrader websocket.Upgrader
	policy   *AccessPolicy

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewNotifier(policy *AccessPolicy) *Notifier {
	return &Notifier{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		policy:   policy,
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

func (n *Notifier) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if _, ok := n.policy.ValidateToken(token); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		xlog.Warn("websocket upgrade failed", "err", err)
		return
	}
	n.mu.Lock()
	n.conns[conn] = struct{}{}
	n.mu.Unlock()
	go n.readUntilClose(conn)
}

func (n *Notifier) readUntilClose(conn *websocket.Conn) {
	defer func() {
		n.mu.Lock()
		delete(n.conns, conn)
		n.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast tells every connected auditor that a new artifact is
// available. Best-effort: a failed send just drops that connection.
func (n *Notifier) Broadcast(event string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for conn := range n.conns {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(event)); err != nil {
			conn.Close()
			delete(n.conns, conn)
		}
	}
}
