package models

import "testing"

func vote(id, value string) Vote {
	return Vote{ParticipantID: id, Value: &value}
}

func TestComputeVoteStats(t *testing.T) {
	doc := &RoomDocument{
		Votes: map[string]Vote{
			"p1": vote("p1", "5"),
			"p2": vote("p2", "8"),
		},
	}
	stats, ok := ComputeVoteStats(doc)
	if !ok {
		t.Fatal("expected stats")
	}
	if stats.Average != 6.5 || stats.Min != 5 || stats.Max != 8 || stats.Count != 2 {
		t.Errorf("stats = %+v, want avg 6.5 min 5 max 8 count 2", stats)
	}
}

func TestComputeVoteStatsIgnoresNonNumeric(t *testing.T) {
	doc := &RoomDocument{
		Votes: map[string]Vote{
			"p1": vote("p1", "5"),
			"p2": vote("p2", "?"),
			"p3": vote("p3", "don't know"),
			"p4": {ParticipantID: "p4", Value: nil},
		},
	}
	stats, ok := ComputeVoteStats(doc)
	if !ok {
		t.Fatal("expected stats from the single numeric vote")
	}
	if stats.Count != 1 || stats.Average != 5 || stats.Min != 5 || stats.Max != 5 {
		t.Errorf("stats = %+v, want the single numeric vote only", stats)
	}
}

func TestComputeVoteStatsNoNumericVotes(t *testing.T) {
	doc := &RoomDocument{
		Votes: map[string]Vote{
			"p1": vote("p1", "?"),
		},
	}
	if _, ok := ComputeVoteStats(doc); ok {
		t.Error("expected ok=false with no numeric votes")
	}

	if _, ok := ComputeVoteStats(&RoomDocument{}); ok {
		t.Error("expected ok=false with no votes at all")
	}
}
