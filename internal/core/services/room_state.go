package services

import (
	"context"
	"sync"
	"time"

	"commlink/internal/core/domain"
	"commlink/internal/core/ports"

	"go.uber.org/zap"
)

// RoomState tracks the client's view of its rooms: membership, bounded
// message history and per-room unread counters. The focused room never
// accrues unread counts. Persistence through the RoomStore is best
// effort; store failures are logged and swallowed.
type RoomState struct {
	mu         sync.RWMutex
	rooms      map[domain.RoomID]*domain.Room
	focused    domain.RoomID
	historyCap int

	store  ports.RoomStore
	logger *zap.SugaredLogger
}

// NewRoomState creates a tracker with the given history cap. store may
// be nil when persistence is not wanted.
func NewRoomState(historyCap int, store ports.RoomStore, logger *zap.SugaredLogger) *RoomState {
	return &RoomState{
		rooms:      make(map[domain.RoomID]*domain.Room),
		historyCap: historyCap,
		store:      store,
		logger:     logger,
	}
}

// Restore loads previously saved rooms from the store. Missing or
// failing stores leave the tracker empty.
func (s *RoomState) Restore(ctx context.Context) {
	if s.store == nil {
		return
	}
	rooms, err := s.store.LoadRoomState(ctx)
	if err != nil {
		s.logger.Warnw("failed to load room state, starting empty", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range rooms {
		if room.HistoryCap == 0 {
			room.HistoryCap = s.historyCap
		}
		s.rooms[room.ID] = room
	}
}

// Track adds a room to the tracker, creating it when unknown.
func (s *RoomState) Track(id domain.RoomID, name string, persistent bool) *domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, ok := s.rooms[id]; ok {
		return room
	}
	room := domain.NewRoom(id, name, s.historyCap)
	room.Persistent = persistent
	s.rooms[id] = room
	return room
}

// Forget removes a room. Persistent rooms are saved first so history
// survives the session.
func (s *RoomState) Forget(ctx context.Context, id domain.RoomID) {
	s.mu.Lock()
	room, ok := s.rooms[id]
	if ok && !room.Persistent {
		delete(s.rooms, id)
	}
	if s.focused == id {
		s.focused = ""
	}
	s.mu.Unlock()

	if ok {
		s.persist(ctx)
	}
}

// AddMessage appends to the room's bounded history, evicting the
// oldest entry beyond the cap. Unknown rooms are tracked implicitly so
// a message racing a join is not lost.
func (s *RoomState) AddMessage(ctx context.Context, msg *domain.Message) {
	s.mu.Lock()
	room, ok := s.rooms[msg.RoomID]
	if !ok {
		room = domain.NewRoom(msg.RoomID, string(msg.RoomID), s.historyCap)
		s.rooms[msg.RoomID] = room
	}
	room.Append(msg)
	s.mu.Unlock()

	s.persist(ctx)
}

// UpdateStatus advances a message's delivery status. Illegal
// transitions are ignored.
func (s *RoomState) UpdateStatus(roomID domain.RoomID, msgID domain.MessageID, status domain.MessageStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	msg := room.FindMessage(msgID)
	if msg == nil {
		return false
	}
	return msg.Advance(status)
}

// ApplyEdit replaces a message body in place, keyed by id.
func (s *RoomState) ApplyEdit(roomID domain.RoomID, msgID domain.MessageID, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	msg := room.FindMessage(msgID)
	if msg == nil || msg.Deleted {
		return false
	}
	now := time.Now()
	msg.Text = text
	msg.EditedAt = &now
	return true
}

// ApplyDelete tombstones a message, keyed by id. The id is never
// reused.
func (s *RoomState) ApplyDelete(roomID domain.RoomID, msgID domain.MessageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	msg := room.FindMessage(msgID)
	if msg == nil {
		return false
	}
	msg.Deleted = true
	msg.Text = ""
	return true
}

// SetFocus marks the room the user is looking at and clears its unread
// counter. Focus suppresses unread accrual for that room only.
func (s *RoomState) SetFocus(id domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.focused = id
	if room, ok := s.rooms[id]; ok {
		room.Unread = 0
	}
}

// MarkRead zeroes the unread counter for the given room; other rooms
// are untouched.
func (s *RoomState) MarkRead(id domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, ok := s.rooms[id]; ok {
		room.Unread = 0
	}
}

// IncrementUnread bumps the room's unread counter unless the room is
// currently focused.
func (s *RoomState) IncrementUnread(id domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == s.focused {
		return
	}
	if room, ok := s.rooms[id]; ok {
		room.Unread++
	}
}

// Unread returns the unread counter for a room.
func (s *RoomState) Unread(id domain.RoomID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if room, ok := s.rooms[id]; ok {
		return room.Unread
	}
	return 0
}

// MemberJoined records a membership change.
func (s *RoomState) MemberJoined(id domain.RoomID, participant domain.ParticipantID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, ok := s.rooms[id]; ok {
		room.AddMember(participant)
	}
}

// MemberLeft records a membership change.
func (s *RoomState) MemberLeft(id domain.RoomID, participant domain.ParticipantID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, ok := s.rooms[id]; ok {
		room.RemoveMember(participant)
	}
}

// Members returns the current membership of a room.
func (s *RoomState) Members(id domain.RoomID) []domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if room, ok := s.rooms[id]; ok {
		return room.MemberList()
	}
	return nil
}

// History returns up to limit most recent messages for a room, oldest
// first. limit <= 0 returns the whole history.
func (s *RoomState) History(id domain.RoomID, limit int) []*domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil
	}
	history := room.History
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]*domain.Message, len(history))
	copy(out, history)
	return out
}

// Rooms returns a snapshot of all tracked rooms.
func (s *RoomState) Rooms() []*domain.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]*domain.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (s *RoomState) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveRoomState(ctx, s.Rooms()); err != nil {
		s.logger.Warnw("failed to save room state", "error", err)
	}
}
