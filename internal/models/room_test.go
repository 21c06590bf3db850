package models

import "testing"

func TestNewRoomCodeFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := NewRoomCode()
		if !ValidRoomCode(code) {
			t.Fatalf("generated invalid room code %q", code)
		}
		seen[code] = true
	}
	if len(seen) < 99 {
		t.Errorf("room codes collide far too often: %d unique of 100", len(seen))
	}
}

func TestValidRoomCode(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"ABC12345", true},
		{"ZZZZZZZZ", true},
		{"00000000", true},
		{"abc12345", false},
		{"ABC1234", false},
		{"ABC123456", false},
		{"ABC 2345", false},
		{"", false},
		{"ABC12_45", false},
	}
	for _, tt := range tests {
		if got := ValidRoomCode(tt.code); got != tt.valid {
			t.Errorf("ValidRoomCode(%q) = %v, want %v", tt.code, got, tt.valid)
		}
	}
}

func TestRoomTypeValid(t *testing.T) {
	if !RoomTypePlanningPoker.Valid() || !RoomTypeRetroBoard.Valid() {
		t.Error("known room types reported invalid")
	}
	if RoomType("karaoke").Valid() {
		t.Error("unknown room type reported valid")
	}
}

func TestPublicStripsHostToken(t *testing.T) {
	doc := &RoomDocument{ID: "ABC12345", Host: "p1", HostToken: "secret"}
	pub := doc.Public()
	if pub.HostToken != "" {
		t.Error("public view carries the host token")
	}
	if doc.HostToken != "secret" {
		t.Error("stripping mutated the original document")
	}
	if pub.ID != doc.ID || pub.Host != doc.Host {
		t.Error("public view dropped unrelated fields")
	}

	// Documents without a token need no copy.
	plain := &RoomDocument{ID: "ABC12345"}
	if plain.Public() != plain {
		t.Error("expected the same document back when no token is set")
	}
}

func TestFindParticipant(t *testing.T) {
	doc := &RoomDocument{
		Participants: []Participant{
			{ID: "p1", Name: "Alice", IsHost: true},
			{ID: "p2", Name: "Bob"},
		},
	}
	if p := doc.FindParticipantByName("Bob"); p == nil || p.ID != "p2" {
		t.Errorf("FindParticipantByName(Bob) = %+v", p)
	}
	if p := doc.FindParticipantByName("Carol"); p != nil {
		t.Errorf("expected nil for unknown name, got %+v", p)
	}
	if p := doc.FindParticipantByID("p1"); p == nil || p.Name != "Alice" {
		t.Errorf("FindParticipantByID(p1) = %+v", p)
	}
}
