package models

import "strings"

// Role kinds used by the rules engine. Rooms may configure any other kind;
// those count as non-mafia.
const (
	RoleMafia        = "mafia"
	RoleDon          = "don"
	RoleCitizen      = "citizen"
	RoleSerialKiller = "serial-killer"
	RoleDoctor       = "doctor"
	RoleSheriff      = "sheriff"
)

// Role is the secret role dealt to a player at game start.
type Role struct {
	Value   string `json:"value"`
	Label   string `json:"label,omitempty"`
	Confirm bool   `json:"confirm,omitempty"`

	// TotalKills is only set for the serial killer.
	TotalKills *int `json:"totalKills,omitempty"`
}

// IsMafia reports whether the role is mafia-aligned.
func (r *Role) IsMafia() bool {
	if r == nil {
		return false
	}
	return strings.Contains(r.Value, RoleMafia) || strings.Contains(r.Value, RoleDon)
}

// Has reports whether the role value names kind, so "don-2" has "don".
func (r *Role) Has(kind string) bool {
	return r != nil && strings.Contains(r.Value, kind)
}

// IsDon reports whether the role is a don-type mafia leader.
func (r *Role) IsDon() bool {
	return r != nil && strings.Contains(r.Value, RoleDon)
}

// PlayerEntry is one seat in a game's roster. The roster is snapshotted at game
// start and mutated in place afterwards.
type PlayerEntry struct {
	UserID       string `json:"userId"`
	UserName     string `json:"userName,omitempty"`
	UserCover    string `json:"userCover,omitempty"`
	PlayerNumber int    `json:"playerNumber"`
	Role         *Role  `json:"role,omitempty"`
	Death        bool   `json:"death"`
	ReadyToStart bool   `json:"readyToStart"`
}

// Alive filters a roster down to the players not marked dead.
func Alive(players []PlayerEntry) []PlayerEntry {
	out := make([]PlayerEntry, 0, len(players))
	for _, p := range players {
		if !p.Death {
			out = append(out, p)
		}
	}
	return out
}

// FindPlayer returns the index of the player with the given user id, or -1.
func FindPlayer(players []PlayerEntry, userID string) int {
	for i := range players {
		if players[i].UserID == userID {
			return i
		}
	}
	return -1
}

// ClonePlayers deep-copies a roster so callers can mutate it freely.
func ClonePlayers(players []PlayerEntry) []PlayerEntry {
	if players == nil {
		return nil
	}
	out := make([]PlayerEntry, len(players))
	for i, p := range players {
		out[i] = p
		if p.Role != nil {
			r := *p.Role
			if p.Role.TotalKills != nil {
				k := *p.Role.TotalKills
				r.TotalKills = &k
			}
			out[i].Role = &r
		}
	}
	return out
}
