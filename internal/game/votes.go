// internal/game/votes.go
package game

import "github.com/jason-s-yu/mafia/internal/models"

// TallyEntry groups the votes cast for one target.
type TallyEntry struct {
	Target string   `json:"voteFor"`
	Count  int      `json:"count"`
	Voters []string `json:"votedBy"`
}

// ApplyVote records voter's choice on a ballot and returns the new ballot.
// Any previous vote by the voter is removed first. Voting for the same target
// again retracts the vote, as does an empty target.
func ApplyVote(ballot []models.Vote, voter, target string) []models.Vote {
	out := make([]models.Vote, 0, len(ballot)+1)
	previous := ""
	for _, v := range ballot {
		if v.Voter == voter {
			previous = v.Target
			continue
		}
		out = append(out, v)
	}
	if target == "" || target == previous {
		return out
	}
	return append(out, models.Vote{Voter: voter, Target: target})
}

// Counts groups a ballot by target in first-seen order.
func Counts(ballot []models.Vote) []TallyEntry {
	out := make([]TallyEntry, 0)
	index := make(map[string]int)
	for _, v := range ballot {
		i, ok := index[v.Target]
		if !ok {
			i = len(out)
			index[v.Target] = i
			out = append(out, TallyEntry{Target: v.Target})
		}
		out[i].Count++
		out[i].Voters = append(out[i].Voters, v.Voter)
	}
	return out
}

// Tally returns every target tied at the highest count. Ties are never broken
// here; resolving them is a separate phase.
func Tally(ballot []models.Vote) []TallyEntry {
	all := Counts(ballot)
	top := 0
	for _, e := range all {
		if e.Count > top {
			top = e.Count
		}
	}
	out := make([]TallyEntry, 0, len(all))
	for _, e := range all {
		if e.Count == top {
			out = append(out, e)
		}
	}
	return out
}
