package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// GameStatus is the coarse status of a game.
type GameStatus string

const (
	StatusInPlay   GameStatus = "In Play"
	StatusFinished GameStatus = "Finished"
)

// PhaseLevel names the phase a game is in. The strings are part of the client contract.
type PhaseLevel string

const (
	LevelReadyToStart PhaseLevel = "readyToStart"
	LevelStartPlay    PhaseLevel = "startPlay"
	LevelDay          PhaseLevel = "Day"
	LevelNight        PhaseLevel = "Night"
	LevelCommonTime   PhaseLevel = "Common Time"
	LevelLastWord     PhaseLevel = "Personal Time Of Death"
)

// Day sub-levels.
const (
	SubLevelJustify      = "JustifyTimer"
	SubLevelJustify2     = "JustifyTimer2"
	SubLevelPeopleDecide = "People Decide"
)

// Stage is the reconciler's view of where a room is in its lifecycle.
type Stage int

const (
	StageLobby Stage = iota
	StageRoleAssignment
	StageDay
	StageNight
	StageFinished
)

func (s Stage) String() string {
	switch s {
	case StageLobby:
		return "Lobby"
	case StageRoleAssignment:
		return "RoleAssignment"
	case StageDay:
		return "Day"
	case StageNight:
		return "Night"
	case StageFinished:
		return "Finished"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// PhaseData is the per-phase payload of a PhaseState. Only the types in this
// file implement it.
type PhaseData interface {
	phaseLevel() PhaseLevel
}

// SpeechState is carried while a day speech round is running.
type SpeechState struct {
	GameStage             string       `json:"gameStage,omitempty"`
	CurrentPlayerToSpeech *PlayerEntry `json:"currentPlayerToSpeech,omitempty"`
	FirstSpeecher         *PlayerEntry `json:"firstSpeecher,omitempty"`
}

func (SpeechState) phaseLevel() PhaseLevel { return LevelDay }

// JustifyState is carried while a nominee is justifying themselves.
type JustifyState struct {
	Player           *PlayerEntry  `json:"player,omitempty"`
	List             []PlayerEntry `json:"list,omitempty"`
	NominationNumber int           `json:"nominationNumber,omitempty"`
	Players          []PlayerEntry `json:"players,omitempty"`
}

func (JustifyState) phaseLevel() PhaseLevel { return LevelDay }

// LastWordState is carried during a dying player's last word.
type LastWordState struct {
	GameStage string        `json:"gameStage,omitempty"`
	NextDeath *PlayerEntry  `json:"nextDeath,omitempty"`
	Deaths    []PlayerEntry `json:"deaths,omitempty"`
}

func (LastWordState) phaseLevel() PhaseLevel { return LevelLastWord }

// PhaseState is the authoritative descriptor of a game's current phase, read by
// reconnecting clients to resume their UI.
type PhaseState struct {
	Status     GameStatus `json:"status"`
	Level      PhaseLevel `json:"level,omitempty"`
	SubLevel   string     `json:"subLevel,omitempty"`
	Voting     bool       `json:"voting,omitempty"`
	Voting2    bool       `json:"voting2,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Data       PhaseData  `json:"-"`
}

// Finished builds the terminal phase state.
func Finished(at time.Time) PhaseState {
	return PhaseState{Status: StatusFinished, FinishedAt: &at}
}

// Stage maps the phase onto the reconciler's lifecycle.
func (p PhaseState) Stage() Stage {
	switch {
	case p.Status == StatusFinished:
		return StageFinished
	case p.Level == "" || p.Level == LevelReadyToStart:
		return StageLobby
	case p.Level == LevelStartPlay:
		return StageRoleAssignment
	case p.Level == LevelNight:
		return StageNight
	default:
		return StageDay
	}
}

type phaseStateJSON struct {
	Status     GameStatus      `json:"status"`
	Level      PhaseLevel      `json:"level,omitempty"`
	SubLevel   string          `json:"subLevel,omitempty"`
	Voting     bool            `json:"voting,omitempty"`
	Voting2    bool            `json:"voting2,omitempty"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

func (p PhaseState) MarshalJSON() ([]byte, error) {
	out := phaseStateJSON{
		Status:     p.Status,
		Level:      p.Level,
		SubLevel:   p.SubLevel,
		Voting:     p.Voting,
		Voting2:    p.Voting2,
		FinishedAt: p.FinishedAt,
	}
	if p.Data != nil {
		raw, err := json.Marshal(p.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal phase data: %w", err)
		}
		out.Data = raw
	}
	return json.Marshal(out)
}

func (p *PhaseState) UnmarshalJSON(b []byte) error {
	var in phaseStateJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*p = PhaseState{
		Status:     in.Status,
		Level:      in.Level,
		SubLevel:   in.SubLevel,
		Voting:     in.Voting,
		Voting2:    in.Voting2,
		FinishedAt: in.FinishedAt,
	}
	if len(in.Data) == 0 || string(in.Data) == "null" {
		return nil
	}

	switch {
	case in.Level == LevelLastWord:
		var d LastWordState
		if err := json.Unmarshal(in.Data, &d); err != nil {
			return fmt.Errorf("decode last word data: %w", err)
		}
		p.Data = d
	case in.Level == LevelDay && (in.SubLevel == SubLevelJustify || in.SubLevel == SubLevelJustify2):
		var d JustifyState
		if err := json.Unmarshal(in.Data, &d); err != nil {
			return fmt.Errorf("decode justify data: %w", err)
		}
		p.Data = d
	case in.Level == LevelDay:
		var d SpeechState
		if err := json.Unmarshal(in.Data, &d); err != nil {
			return fmt.Errorf("decode speech data: %w", err)
		}
		p.Data = d
	}
	return nil
}
