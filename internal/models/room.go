package models

import (
	"crypto/rand"
	"time"
)

// RoomType defines the kind of collaboration session a room hosts.
type RoomType string

const (
	RoomTypePlanningPoker RoomType = "planning-poker"
	RoomTypeRetroBoard    RoomType = "retro-board"
)

// Valid reports whether t is a known room type.
func (t RoomType) Valid() bool {
	return t == RoomTypePlanningPoker || t == RoomTypeRetroBoard
}

// Participant is one member of a room. The id is generated once per joining
// client and keys votes and notes; the name is the display key used for
// reconnect matching.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

// Vote is one participant's planning poker vote. Value is nil when the
// participant cleared their card. Revealed is carried per vote for wire
// compatibility; the room-level VotesRevealed flag governs visibility.
type Vote struct {
	ParticipantID string  `json:"participantId"`
	Value         *string `json:"value"`
	Revealed      bool    `json:"revealed"`
}

// Note is one sticky note on a retro board. Immutable once created except
// for deletion.
type Note struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	ColumnID   string    `json:"columnId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Column is one retro board column. The set is fixed at room creation and
// never mutated afterward.
type Column struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Color string `json:"color"`
}

// RoomDocument is the full serialized state of one room. Every mutation
// reads the current document, computes a new one, and writes the whole
// thing back; clients always receive the complete document.
type RoomDocument struct {
	ID           string        `json:"id"`
	Type         RoomType      `json:"type"`
	Participants []Participant `json:"participants"`
	Host         string        `json:"host"`
	HostToken    string        `json:"hostToken,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`

	// Planning poker fields.
	CurrentStory  string          `json:"currentStory,omitempty"`
	Votes         map[string]Vote `json:"votes,omitempty"`
	VotesRevealed bool            `json:"votesRevealed"`

	// Retro board fields.
	Columns []Column `json:"columns,omitempty"`
	Notes   []Note   `json:"notes,omitempty"`
}

// Public returns a view safe to send to anyone but the room's creator.
// The host token leaves the server exactly once, in the creating
// connection's join response.
func (d *RoomDocument) Public() *RoomDocument {
	if d.HostToken == "" {
		return d
	}
	pub := *d
	pub.HostToken = ""
	return &pub
}

// FindParticipantByName returns the participant with the given display name,
// or nil if absent.
func (d *RoomDocument) FindParticipantByName(name string) *Participant {
	for i := range d.Participants {
		if d.Participants[i].Name == name {
			return &d.Participants[i]
		}
	}
	return nil
}

// FindParticipantByID returns the participant with the given id, or nil.
func (d *RoomDocument) FindParticipantByID(id string) *Participant {
	for i := range d.Participants {
		if d.Participants[i].ID == id {
			return &d.Participants[i]
		}
	}
	return nil
}

// DefaultRetroColumns returns the fixed column set created for retro board
// rooms.
func DefaultRetroColumns() []Column {
	return []Column{
		{ID: "1", Title: "What Went Well", Color: "bg-green-100"},
		{ID: "2", Title: "What to Improve", Color: "bg-yellow-100"},
		{ID: "3", Title: "Action Items", Color: "bg-blue-100"},
	}
}

const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RoomCodeLength is the fixed length of a room code. The code doubles as
// the storage key and the human-shareable invite code.
const RoomCodeLength = 8

// NewRoomCode generates a fresh 8-character uppercase alphanumeric room
// code.
func NewRoomCode() string {
	buf := make([]byte, RoomCodeLength)
	rand.Read(buf)
	for i, b := range buf {
		buf[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(buf)
}

// ValidRoomCode reports whether s is a well-formed room code.
func ValidRoomCode(s string) bool {
	if len(s) != RoomCodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
