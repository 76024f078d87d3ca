// internal/game/rotation.go
package game

import "github.com/jason-s-yu/mafia/internal/models"

// NextSpeaker picks who speaks after current. It returns the alive player with
// the smallest playerNumber above current's, wrapping to the lowest alive
// number. The round is over (speechEnd) when the next speaker would be first
// again or when nobody is left. A first who has died or left still closes the
// round: stepping past their seat ends it with no next speaker.
//
// The result depends only on the arguments.
func NextSpeaker(players []models.PlayerEntry, current, first *models.PlayerEntry) (*models.PlayerEntry, bool) {
	curNum := 0
	if current != nil {
		curNum = current.PlayerNumber
	}

	var next, lowest *models.PlayerEntry
	for i := range players {
		p := &players[i]
		if p.Death {
			continue
		}
		if lowest == nil || p.PlayerNumber < lowest.PlayerNumber {
			lowest = p
		}
		if p.PlayerNumber > curNum && (next == nil || p.PlayerNumber < next.PlayerNumber) {
			next = p
		}
	}

	wrapped := false
	if next == nil {
		if lowest == nil || (first != nil && lowest.PlayerNumber == first.PlayerNumber) {
			return nil, true
		}
		next = lowest
		wrapped = true
	}
	if first != nil && passes(curNum, next.PlayerNumber, first.PlayerNumber, wrapped) {
		return nil, true
	}
	if first != nil && next.PlayerNumber == first.PlayerNumber {
		out := *next
		return &out, true
	}
	out := *next
	return &out, false
}

// passes reports whether moving forward from seat cur to seat next skips over
// seat first. An alive first is never skipped, so this only fires for an
// opener who is no longer on the roster.
func passes(cur, next, first int, wrapped bool) bool {
	if wrapped {
		return first > cur || first < next
	}
	return first > cur && first < next
}

// FirstSpeakerForDay chooses the opening speaker of a new day. Day one opens
// with the first seat; later days rotate one seat past the previous opener.
func FirstSpeakerForDay(players []models.PlayerEntry, dayNumber int, previous *models.PlayerEntry) *models.PlayerEntry {
	if len(players) == 0 {
		return nil
	}
	if dayNumber <= 1 || previous == nil {
		out := players[0]
		return &out
	}
	next, _ := NextSpeaker(players, previous, nil)
	return next
}
