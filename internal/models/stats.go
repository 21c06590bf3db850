package models

import "strconv"

// VoteStats summarizes the numeric votes in a poker room. Non-numeric card
// labels (e.g. "?") and cleared votes are excluded.
type VoteStats struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Count   int     `json:"count"`
}

// ComputeVoteStats aggregates the numeric votes of a room document. ok is
// false when no vote parses as a number.
func ComputeVoteStats(doc *RoomDocument) (VoteStats, bool) {
	var stats VoteStats
	var sum float64
	for _, v := range doc.Votes {
		if v.Value == nil {
			continue
		}
		n, err := strconv.ParseFloat(*v.Value, 64)
		if err != nil {
			continue
		}
		if stats.Count == 0 || n < stats.Min {
			stats.Min = n
		}
		if stats.Count == 0 || n > stats.Max {
			stats.Max = n
		}
		sum += n
		stats.Count++
	}
	if stats.Count == 0 {
		return VoteStats{}, false
	}
	stats.Average = sum / float64(stats.Count)
	return stats, true
}
