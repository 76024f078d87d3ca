// internal/models/ballot.go
package models

import "encoding/json"

// Vote is one live vote on a ballot.
type Vote struct {
	Voter  string
	Target string
}

// KillBallot holds day nominations and night kill votes. Clients read them as
// {killer, victim}.
type KillBallot []Vote

// RunoffBallot holds last-vote and people-decide ballots. Clients read them as
// {votedBy, voteFor}.
type RunoffBallot []Vote

type killVote struct {
	Killer string `json:"killer"`
	Victim string `json:"victim"`
}

type runoffVote struct {
	VotedBy string `json:"votedBy"`
	VoteFor string `json:"voteFor"`
}

func (b KillBallot) MarshalJSON() ([]byte, error) {
	out := make([]killVote, len(b))
	for i, v := range b {
		out[i] = killVote{Killer: v.Voter, Victim: v.Target}
	}
	return json.Marshal(out)
}

func (b *KillBallot) UnmarshalJSON(data []byte) error {
	var in []killVote
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*b = make(KillBallot, len(in))
	for i, v := range in {
		(*b)[i] = Vote{Voter: v.Killer, Target: v.Victim}
	}
	return nil
}

func (b RunoffBallot) MarshalJSON() ([]byte, error) {
	out := make([]runoffVote, len(b))
	for i, v := range b {
		out[i] = runoffVote{VotedBy: v.Voter, VoteFor: v.Target}
	}
	return json.Marshal(out)
}

func (b *RunoffBallot) UnmarshalJSON(data []byte) error {
	var in []runoffVote
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*b = make(RunoffBallot, len(in))
	for i, v := range in {
		(*b)[i] = Vote{Voter: v.VotedBy, Target: v.VoteFor}
	}
	return nil
}
