package domain

import "time"

// Room holds membership and a bounded message history. Once the history
// cap is exceeded the oldest entry is evicted, strict FIFO by arrival.
type Room struct {
	ID         RoomID    `json:"id"`
	Name       string    `json:"name"`
	Persistent bool      `json:"persistent"`
	CreatedAt  time.Time `json:"created_at"`

	Members    map[ParticipantID]struct{} `json:"members,omitempty"`
	History    []*Message                 `json:"history,omitempty"`
	HistoryCap int                        `json:"history_cap"`
	Unread     int                        `json:"unread,omitempty"`
}

func NewRoom(id RoomID, name string, historyCap int) *Room {
	return &Room{
		ID:         id,
		Name:       name,
		CreatedAt:  time.Now(),
		Members:    make(map[ParticipantID]struct{}),
		HistoryCap: historyCap,
	}
}

// Append adds a message to the history, evicting the oldest entry when
// the cap is exceeded.
func (r *Room) Append(msg *Message) {
	r.History = append(r.History, msg)
	if r.HistoryCap > 0 && len(r.History) > r.HistoryCap {
		over := len(r.History) - r.HistoryCap
		r.History = append(r.History[:0:0], r.History[over:]...)
	}
}

// FindMessage returns the history entry with the given id, or nil.
func (r *Room) FindMessage(id MessageID) *Message {
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].ID == id {
			return r.History[i]
		}
	}
	return nil
}

func (r *Room) AddMember(id ParticipantID) {
	r.Members[id] = struct{}{}
}

func (r *Room) RemoveMember(id ParticipantID) {
	delete(r.Members, id)
}

func (r *Room) HasMember(id ParticipantID) bool {
	_, ok := r.Members[id]
	return ok
}

func (r *Room) MemberList() []ParticipantID {
	members := make([]ParticipantID, 0, len(r.Members))
	for id := range r.Members {
		members = append(members, id)
	}
	return members
}
