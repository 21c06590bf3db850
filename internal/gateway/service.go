package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agileflow/realtime/internal/models"
	"github.com/agileflow/realtime/internal/room"
)

// RoomOps defines what the gateway needs from the session coordinator.
type RoomOps interface {
	Join(ctx context.Context, roomID, name string, roomType models.RoomType) (*models.RoomDocument, *models.Participant, string, error)
	Leave(ctx context.Context, roomID, name string) error
	CastVote(ctx context.Context, roomID, participantName string, value *string) error
	RevealVotes(ctx context.Context, roomID, requesterName, hostToken string) error
	ResetVotes(ctx context.Context, roomID, requesterName, hostToken string) error
	SetStory(ctx context.Context, roomID, requesterName, story, hostToken string) error
	AddNote(ctx context.Context, roomID, authorName, text, columnID string) error
	DeleteNote(ctx context.Context, roomID, noteID, requesterName, hostToken string) error
}

// DefaultJoinTimeout is the acknowledgement window for a join request.
// A join not answered inside it fails back to the caller, who may retry.
const DefaultJoinTimeout = 5 * time.Second

// Service wires the WebSocket surface to the coordinator and the query
// surface to the store.
type Service struct {
	ops         RoomOps
	store       room.Store
	manager     *ConnectionManager
	joinTimeout time.Duration
	opTimeout   time.Duration
}

// NewService creates the gateway service.
func NewService(ops RoomOps, store room.Store, manager *ConnectionManager) *Service {
	return &Service{
		ops:         ops,
		store:       store,
		manager:     manager,
		joinTimeout: DefaultJoinTimeout,
		opTimeout:   10 * time.Second,
	}
}

// RegisterRoutes registers the WebSocket and REST routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /rooms/{roomID}", s.handleGetRoom)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws/stats", s.handleStats)
}

func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if _, err := s.manager.Upgrade(w, r, s); err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
	}
}

// handleGetRoom serves the query interface: the current document, or 404
// when the room is absent or expired.
func (s *Service) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	w.Header().Set("Content-Type", "application/json")

	if !models.ValidRoomCode(roomID) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not_found"}`))
		return
	}

	doc, err := s.store.Get(r.Context(), roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to read room")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal"}`))
		return
	}
	if doc == nil {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not_found"}`))
		return
	}

	if err := json.NewEncoder(w).Encode(doc.Public()); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to write room response")
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.manager.GetStats())
}

// HandleMessage routes one inbound wire message. Malformed frames and
// precondition failures are dropped without a reply; only a failed join
// produces an error frame.
func (s *Service) HandleMessage(ctx context.Context, conn *Connection, env Envelope) {
	switch env.Type {
	case MessageJoinRoom:
		var p JoinRoomPayload
		if !decode(conn, env, &p) || !models.ValidRoomCode(p.RoomID) {
			return
		}
		s.handleJoin(ctx, conn, p)

	case MessageLeaveRoom:
		var p LeaveRoomPayload
		if !decode(conn, env, &p) {
			return
		}
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
		if err := s.ops.Leave(opCtx, p.RoomID, p.Name); err != nil {
			log.Error().Err(err).Str("room_id", p.RoomID).Msg("leave_room failed")
			return
		}
		if conn.RoomID == p.RoomID {
			s.manager.Unsubscribe(conn)
		}

	case MessageCastVote:
		var p CastVotePayload
		if !decode(conn, env, &p) {
			return
		}
		s.run(ctx, p.RoomID, "cast_vote", func(opCtx context.Context) error {
			return s.ops.CastVote(opCtx, p.RoomID, p.ParticipantName, p.Value)
		})

	case MessageRevealVotes:
		var p RequesterPayload
		if !decode(conn, env, &p) {
			return
		}
		s.run(ctx, p.RoomID, "reveal_votes", func(opCtx context.Context) error {
			return s.ops.RevealVotes(opCtx, p.RoomID, p.RequesterName, p.HostToken)
		})

	case MessageResetVotes, MessageNewRound:
		var p RequesterPayload
		if !decode(conn, env, &p) {
			return
		}
		s.run(ctx, p.RoomID, "reset_votes", func(opCtx context.Context) error {
			return s.ops.ResetVotes(opCtx, p.RoomID, p.RequesterName, p.HostToken)
		})

	case MessageSetStory:
		var p SetStoryPayload
		if !decode(conn, env, &p) {
			return
		}
		s.run(ctx, p.RoomID, "set_story", func(opCtx context.Context) error {
			return s.ops.SetStory(opCtx, p.RoomID, p.RequesterName, p.Story, p.HostToken)
		})

	case MessageNoteAdd:
		var p NoteAddPayload
		if !decode(conn, env, &p) {
			return
		}
		s.run(ctx, p.RoomID, "note_add", func(opCtx context.Context) error {
			return s.ops.AddNote(opCtx, p.RoomID, p.AuthorName, p.Text, p.ColumnID)
		})

	case MessageNoteDelete:
		var p NoteDeletePayload
		if !decode(conn, env, &p) {
			return
		}
		s.run(ctx, p.RoomID, "note_delete", func(opCtx context.Context) error {
			return s.ops.DeleteNote(opCtx, p.RoomID, p.NoteID, p.RequesterName, p.HostToken)
		})

	default:
		log.Debug().
			Str("connection_id", conn.ID).
			Str("type", string(env.Type)).
			Msg("unknown message type - ignoring")
	}
}

// handleJoin applies the join inside the acknowledgement window, then
// subscribes the socket and answers it directly with the current state.
// The bus broadcast reaches the same socket again shortly after; clients
// replace their view wholesale, so the duplicate is harmless.
//
// Only the creating connection's response carries the host token; every
// other view of the document has it stripped.
func (s *Service) handleJoin(ctx context.Context, conn *Connection, p JoinRoomPayload) {
	joinCtx, cancel := context.WithTimeout(ctx, s.joinTimeout)
	defer cancel()

	doc, participant, hostToken, err := s.ops.Join(joinCtx, p.RoomID, p.Name, p.Type)
	if err != nil {
		log.Error().Err(err).Str("room_id", p.RoomID).Msg("join_room failed")
		s.sendJoinError(conn, p.RoomID, "could not join")
		return
	}
	if doc == nil || participant == nil {
		return
	}

	conn.Name = p.Name
	s.manager.Subscribe(conn, p.RoomID)

	view := doc.Public()
	if hostToken != "" {
		view = doc
	}
	frame, err := EncodeRoomState(view)
	if err != nil {
		log.Error().Err(err).Str("room_id", p.RoomID).Msg("failed to encode join response")
		return
	}
	if !conn.trySend(frame) {
		log.Warn().Str("connection_id", conn.ID).Msg("send buffer full on join response")
	}
}

func (s *Service) sendJoinError(conn *Connection, roomID, reason string) {
	frame, err := EncodeJoinError(roomID, reason)
	if err != nil {
		return
	}
	conn.trySend(frame)
}

// run executes one fail-silent mutation with the operation timeout.
func (s *Service) run(ctx context.Context, roomID, opName string, op func(ctx context.Context) error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := op(opCtx); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Str("op", opName).Msg("operation failed")
	}
}

func decode(conn *Connection, env Envelope, v any) bool {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		log.Debug().
			Str("connection_id", conn.ID).
			Str("type", string(env.Type)).
			Msg("dropping message with malformed payload")
		return false
	}
	return true
}
