package syncserver

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// snapshotFrame is the only frame kind sent to subscribers: the full room
// contents, ordered ascending by timestamp. Subscribers replace their view
// with it wholesale.
type snapshotFrame struct {
	Kind     string     `json:"kind"`
	Room     string     `json:"room"`
	Messages []Document `json:"messages"`
}

// hub tracks live room subscribers and pushes a fresh snapshot to all of
// them whenever the room mutates.
type hub struct {
	mu     sync.Mutex
	rooms  map[string]map[*websocket.Conn]struct{}
	logger zerolog.Logger
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{rooms: make(map[string]map[*websocket.Conn]struct{}), logger: logger}
}

func (h *hub) register(room string, conn *websocket.Conn) {
	h.mu.Lock()
	subs := h.rooms[room]
	if subs == nil {
		subs = make(map[*websocket.Conn]struct{})
		h.rooms[room] = subs
	}
	subs[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) unregister(room string, conn *websocket.Conn) {
	h.mu.Lock()
	if subs := h.rooms[room]; subs != nil {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// broadcast pushes the snapshot to every subscriber of the room, dropping
// connections whose writes fail.
func (h *hub) broadcast(room string, docs []Document) {
	frame := snapshotFrame{Kind: "snapshot", Room: room, Messages: docs}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.rooms[room] {
		if err := conn.WriteJSON(frame); err != nil {
			h.logger.Debug().Err(err).Str("room", room).Msg("drop dead subscriber")
			delete(h.rooms[room], conn)
			_ = conn.Close()
		}
	}
}

// sendTo delivers the snapshot to a single freshly connected subscriber.
func (h *hub) sendTo(conn *websocket.Conn, room string, docs []Document) error {
	return conn.WriteJSON(snapshotFrame{Kind: "snapshot", Room: room, Messages: docs})
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, subs := range h.rooms {
		for conn := range subs {
			_ = conn.Close()
		}
		delete(h.rooms, room)
	}
}
