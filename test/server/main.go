// Manual test backend: a minimal broadcast server for exercising the client.
// Run it, then point cmd/collab at ws://localhost:8787/collab.
package main

import (
	"flag"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/collabwire/collabwire/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type hub struct {
	mu    sync.Mutex
	peers map[*peer]struct{}
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	userID  string
	docs    map[string]struct{}
}

func (p *peer) send(data []byte) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *hub) add(p *peer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(p *peer) {
	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
}

// broadcast fans a frame out to every other peer in the same document.
func (h *hub) broadcast(from *peer, documentID string, data []byte) {
	h.mu.Lock()
	targets := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		if p == from {
			continue
		}
		if documentID != "" {
			if _, member := p.docs[documentID]; !member {
				continue
			}
		}
		targets = append(targets, p)
	}
	h.mu.Unlock()

	for _, p := range targets {
		p.send(data)
	}
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade: %v", err)
		return
	}

	p := &peer{conn: conn, docs: make(map[string]struct{})}
	h.add(p)
	defer func() {
		h.remove(p)
		_ = conn.Close()
		log.Printf("peer gone, user: %s", p.userID)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			log.Printf("drop malformed frame: %v", err)
			continue
		}

		switch env.Type {
		case protocol.KindHandshake:
			var hs protocol.Handshake
			if err := protocol.Unmarshal(env.Data, &hs); err == nil {
				h.mu.Lock()
				p.userID = hs.UserID
				h.mu.Unlock()
				log.Printf("handshake, user: %s, name: %s", hs.UserID, hs.UserName)
			}

		case protocol.KindPing:
			pong := protocol.NewEnvelope(protocol.KindPong, "server", env.Data)
			if raw, err := protocol.Encode(pong); err == nil {
				p.send(raw)
			}

		case protocol.KindJoinDocument:
			h.mu.Lock()
			p.docs[env.DocumentID] = struct{}{}
			h.mu.Unlock()
			log.Printf("join, user: %s, doc: %s", env.UserID, env.DocumentID)
			h.broadcast(p, env.DocumentID, data)

		case protocol.KindLeaveDocument:
			h.mu.Lock()
			delete(p.docs, env.DocumentID)
			h.mu.Unlock()
			log.Printf("leave, user: %s, doc: %s", env.UserID, env.DocumentID)
			h.broadcast(p, env.DocumentID, data)

		default:
			h.broadcast(p, env.DocumentID, data)
		}
	}
}

func main() {
	addr := flag.String("addr", ":8787", "listen address")
	flag.Parse()

	h := &hub{peers: make(map[*peer]struct{})}
	http.HandleFunc("/collab", h.serve)

	log.Printf("broadcast backend listening on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, nil))
}
