// internal/game/roles.go
package game

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/jason-s-yu/mafia/internal/models"
)

// ErrRoleCount is returned when the expanded deck does not match the seats.
var ErrRoleCount = errors.New("role count does not match player count")

// ExpandRoles turns the room's configured role kinds into one role per seat.
// Mafia repeats maxMafias times (one fewer when a don is configured), citizens
// fill whatever the other roles leave free, and everything else appears once.
func ExpandRoles(configured []models.Role, opts models.RoomOptions) []models.Role {
	hasDon := false
	for _, r := range configured {
		if r.IsDon() {
			hasDon = true
			break
		}
	}

	mafiaCount := opts.MaxMafias
	if hasDon {
		mafiaCount--
	}

	special := 0
	for _, r := range configured {
		if r.Value != models.RoleMafia && r.Value != models.RoleCitizen {
			special++
		}
	}
	citizens := opts.MaxPlayers - mafiaCount - special

	out := make([]models.Role, 0, opts.MaxPlayers)
	for _, r := range configured {
		switch r.Value {
		case models.RoleMafia:
			out = appendN(out, r, mafiaCount)
		case models.RoleCitizen:
			out = appendN(out, r, citizens)
		default:
			out = append(out, r)
		}
	}

	plainMafia := 0
	for _, r := range out {
		if r.Value == models.RoleMafia {
			plainMafia++
		}
	}
	kills := plainMafia - 1
	if kills < 1 {
		kills = 1
	}
	for i := range out {
		out[i].Confirm = false
		out[i].TotalKills = nil
		if out[i].Value == models.RoleSerialKiller {
			k := kills
			out[i].TotalKills = &k
		}
	}
	return out
}

func appendN(out []models.Role, r models.Role, n int) []models.Role {
	for i := 0; i < n; i++ {
		out = append(out, r)
	}
	return out
}

// Shuffle permutes roles in place with a Fisher-Yates pass. A nil rng uses the
// package-level source.
func Shuffle(roles []models.Role, rng *rand.Rand) {
	intN := rand.IntN
	if rng != nil {
		intN = rng.IntN
	}
	for i := len(roles) - 1; i > 0; i-- {
		j := intN(i + 1)
		roles[i], roles[j] = roles[j], roles[i]
	}
}

// Seat is a participant about to be dealt into a game, in join order.
type Seat struct {
	UserID    string
	UserName  string
	UserCover string
}

// AssignRoles zips seats with the shuffled roles, numbering players from 1 in
// seat order.
func AssignRoles(seats []Seat, roles []models.Role) ([]models.PlayerEntry, error) {
	if len(seats) != len(roles) {
		return nil, fmt.Errorf("%w: %d seats, %d roles", ErrRoleCount, len(seats), len(roles))
	}
	players := make([]models.PlayerEntry, len(seats))
	for i, s := range seats {
		role := roles[i]
		if role.TotalKills != nil {
			k := *role.TotalKills
			role.TotalKills = &k
		}
		players[i] = models.PlayerEntry{
			UserID:       s.UserID,
			UserName:     s.UserName,
			UserCover:    s.UserCover,
			PlayerNumber: i + 1,
			Role:         &role,
			ReadyToStart: true,
		}
	}
	return players, nil
}

// ToggleSerialKill updates a night's serial-killer mark and the killer's
// remaining kill allowance. Marking spends a kill once; clearing refunds it.
// It reports false when the roster has no serial killer.
func ToggleSerialKill(players []models.PlayerEntry, night *models.Night, kill bool, target string) bool {
	idx := -1
	for i := range players {
		if players[i].Role != nil && players[i].Role.Value == models.RoleSerialKiller {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	role := players[idx].Role
	if role.TotalKills == nil {
		zero := 0
		role.TotalKills = &zero
	}

	if kill {
		if night.KilledBySerialKiller == nil {
			*role.TotalKills--
		}
		night.KilledBySerialKiller = &models.Mark{Status: true, PlayerID: target}
		return true
	}
	if night.KilledBySerialKiller != nil {
		night.KilledBySerialKiller = nil
		*role.TotalKills++
	}
	return true
}
