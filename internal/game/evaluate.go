// internal/game/evaluate.go
package game

import "github.com/jason-s-yu/mafia/internal/models"

// Outcome is the verdict of Evaluate. Winners is empty while the game goes on.
type Outcome struct {
	Over    bool   `json:"value"`
	Winners string `json:"winners,omitempty"`
}

// Result converts a terminal outcome into the record stored on the game.
func (o Outcome) Result() *models.Result {
	if !o.Over {
		return nil
	}
	return &models.Result{Value: true, Winners: o.Winners}
}

// Evaluate classifies the alive players of a game. Dead entries in the input
// are ignored, so callers may pass a whole roster. This is the only place a
// game is ever declared won.
func Evaluate(players []models.PlayerEntry) Outcome {
	mafia := 0
	var others []models.PlayerEntry
	for _, p := range players {
		if p.Death {
			continue
		}
		if p.Role.IsMafia() {
			mafia++
		} else {
			others = append(others, p)
		}
	}
	alive := mafia + len(others)

	// parity is checked first, so an empty roster (0 == 0) goes to the mafia
	switch {
	case mafia == len(others):
		if alive == 2 && others[0].Role != nil && others[0].Role.Value == models.RoleSerialKiller {
			return Outcome{Over: true, Winners: models.WinnersSerialKiller}
		}
		return Outcome{Over: true, Winners: models.WinnersMafia}
	case mafia > len(others):
		return Outcome{Over: true, Winners: models.WinnersMafia}
	case mafia == 0:
		return Outcome{Over: true, Winners: models.WinnersCitizens}
	}
	return Outcome{}
}
