package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/agileflow/realtime/internal/models"
)

// MessageType identifies a wire message.
type MessageType string

// Client -> server message types. Each maps 1:1 to a coordinator
// operation; precondition failures produce no reply at all.
const (
	MessageJoinRoom    MessageType = "join_room"
	MessageLeaveRoom   MessageType = "leave_room"
	MessageCastVote    MessageType = "cast_vote"
	MessageRevealVotes MessageType = "reveal_votes"
	MessageResetVotes  MessageType = "reset_votes"
	MessageNewRound    MessageType = "new_round" // alias for reset_votes
	MessageSetStory    MessageType = "set_story"
	MessageNoteAdd     MessageType = "note_add"
	MessageNoteDelete  MessageType = "note_delete"
)

// Server -> client message types.
const (
	MessageRoomState MessageType = "room_state"
	MessageJoinError MessageType = "join_error"
)

// Envelope is the wire frame: a type tag and a type-specific payload.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// JoinRoomPayload joins (or creates) a room.
type JoinRoomPayload struct {
	RoomID string          `json:"roomId"`
	Name   string          `json:"name"`
	Type   models.RoomType `json:"type"`
}

// LeaveRoomPayload removes a participant from the roster.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

// CastVotePayload upserts a vote. Value is nil when the card is cleared.
type CastVotePayload struct {
	RoomID          string  `json:"roomId"`
	ParticipantName string  `json:"participantName"`
	Value           *string `json:"value"`
}

// RequesterPayload carries the privileged operations that only name the
// caller: reveal_votes, reset_votes, new_round. HostToken is the secret
// handed to the creating connection in its join response.
type RequesterPayload struct {
	RoomID        string `json:"roomId"`
	RequesterName string `json:"requesterName"`
	HostToken     string `json:"hostToken,omitempty"`
}

// SetStoryPayload sets the current story on a poker room.
type SetStoryPayload struct {
	RoomID        string `json:"roomId"`
	RequesterName string `json:"requesterName"`
	Story         string `json:"story"`
	HostToken     string `json:"hostToken,omitempty"`
}

// NoteAddPayload appends a sticky note.
type NoteAddPayload struct {
	RoomID     string `json:"roomId"`
	Text       string `json:"text"`
	ColumnID   string `json:"columnId"`
	AuthorName string `json:"authorName"`
}

// NoteDeletePayload removes a sticky note. HostToken is only needed when
// deleting someone else's note.
type NoteDeletePayload struct {
	RoomID        string `json:"roomId"`
	NoteID        string `json:"noteId"`
	RequesterName string `json:"requesterName"`
	HostToken     string `json:"hostToken,omitempty"`
}

// JoinErrorPayload is the terminal join failure sent when no acknowledgement
// arrived inside the join window.
type JoinErrorPayload struct {
	RoomID string `json:"roomId"`
	Error  string `json:"error"`
}

// EncodeRoomState frames a full document as a room_state message.
func EncodeRoomState(doc *models.RoomDocument) ([]byte, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode room state: %w", err)
	}
	return json.Marshal(Envelope{Type: MessageRoomState, Payload: payload})
}

// EncodeRawRoomState frames an already-serialized document as a room_state
// message, avoiding a decode/encode round trip on the broadcast path.
func EncodeRawRoomState(doc json.RawMessage) ([]byte, error) {
	return json.Marshal(Envelope{Type: MessageRoomState, Payload: doc})
}

// EncodeJoinError frames a terminal join failure.
func EncodeJoinError(roomID, reason string) ([]byte, error) {
	payload, err := json.Marshal(JoinErrorPayload{RoomID: roomID, Error: reason})
	if err != nil {
		return nil, fmt.Errorf("encode join error: %w", err)
	}
	return json.Marshal(Envelope{Type: MessageJoinError, Payload: payload})
}
