package collab

import (
	"sort"
	"sync"

	"github.com/yanun0323/logs"

	"github.com/collabwire/collabwire/pkg/protocol"
)

// Session tracks per-document membership and offers typed senders. Document
// scopes live on the backend connection, so after every reconnect the session
// resends a join for each member document.
type Session struct {
	mgr *Manager
	sub Subscription

	mu        sync.Mutex
	documents map[string]struct{}
	// pendingJoin holds documents whose join was queued while disconnected.
	// Their join reaches the backend through the outbox flush, so the next
	// rejoin skips them to avoid a duplicate.
	pendingJoin map[string]struct{}
}

// NewSession binds a session to a manager. Close releases the binding.
func NewSession(mgr *Manager) *Session {
	s := &Session{
		mgr:         mgr,
		documents:   make(map[string]struct{}),
		pendingJoin: make(map[string]struct{}),
	}
	s.sub = mgr.On(EventConnected, func(event Event) {
		connected, ok := event.(ConnectedEvent)
		if !ok {
			return
		}
		if connected.Reconnect {
			s.rejoin()
			return
		}
		// First connect: any queued join just flushed, nothing is pending.
		s.mu.Lock()
		s.pendingJoin = make(map[string]struct{})
		s.mu.Unlock()
	})
	return s
}

// JoinDocument declares interest in a document and sends the join message.
// The membership survives reconnects until LeaveDocument.
func (s *Session) JoinDocument(id string) bool {
	if s == nil || id == "" {
		return false
	}

	s.mu.Lock()
	s.documents[id] = struct{}{}
	s.pendingJoin[id] = struct{}{}
	s.mu.Unlock()

	sent := s.mgr.SendTo(protocol.KindJoinDocument, id, nil)
	if sent {
		s.mu.Lock()
		delete(s.pendingJoin, id)
		s.mu.Unlock()
	}
	return sent
}

// LeaveDocument drops the membership and sends the leave message. No rejoin
// occurs for this document afterwards.
func (s *Session) LeaveDocument(id string) bool {
	if s == nil || id == "" {
		return false
	}

	s.mu.Lock()
	_, member := s.documents[id]
	delete(s.documents, id)
	delete(s.pendingJoin, id)
	s.mu.Unlock()

	if !member {
		return false
	}
	return s.mgr.SendTo(protocol.KindLeaveDocument, id, nil)
}

// Documents returns the current membership, sorted.
func (s *Session) Documents() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.documents))
	for id := range s.documents {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

func (s *Session) rejoin() {
	s.mu.Lock()
	docs := make([]string, 0, len(s.documents))
	for id := range s.documents {
		if _, pending := s.pendingJoin[id]; pending {
			// The queued join for this document was just flushed from the
			// outbox; resending it here would join twice.
			continue
		}
		docs = append(docs, id)
	}
	s.pendingJoin = make(map[string]struct{})
	s.mu.Unlock()

	if len(docs) == 0 {
		return
	}
	sort.Strings(docs)
	logs.Infof("rejoining documents after reconnect, count: %d", len(docs))
	for _, id := range docs {
		s.mgr.SendTo(protocol.KindJoinDocument, id, nil)
	}
}

// SendCursorUpdate reports the local caret position inside a document.
func (s *Session) SendCursorUpdate(documentID string, cursor protocol.CursorUpdate) bool {
	return s.mgr.SendTo(protocol.KindCursorUpdate, documentID, cursor)
}

// SendContentChange ships an edit delta for a document.
func (s *Session) SendContentChange(documentID string, change protocol.ContentChange) bool {
	return s.mgr.SendTo(protocol.KindContentChange, documentID, change)
}

// SendComment adds a comment to a document.
func (s *Session) SendComment(documentID string, comment protocol.Comment) bool {
	return s.mgr.SendTo(protocol.KindCommentAdd, documentID, comment)
}

// SendPresenceUpdate publishes the user's presence for a document.
func (s *Session) SendPresenceUpdate(documentID string, presence protocol.Presence) bool {
	return s.mgr.SendTo(protocol.KindPresenceUpdate, documentID, presence)
}

// Close detaches the session from the manager. Membership is kept so a later
// session could be rebuilt from it, but no rejoin fires anymore.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.mgr.Off(s.sub)
}
