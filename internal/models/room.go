package models

import "time"

// Room is the durable record of a lobby/game container. It owns the ordered
// history of games; only the last game is ever mutated.
type Room struct {
	ID            string      `json:"_id"`
	Title         string      `json:"title"`
	FounderID     string      `json:"founder"`
	Language      string      `json:"language,omitempty"`
	Cover         string      `json:"cover,omitempty"`
	Private       Private     `json:"private"`
	Options       RoomOptions `json:"options"`
	Roles         []Role      `json:"roles"`
	PersonalTime  int         `json:"personalTime"`
	SpectatorMode bool        `json:"spectatorMode"`
	DrawInReVote  string      `json:"drawInReVote,omitempty"`
	Games         []Game      `json:"games"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`

	// Version is the optimistic concurrency token; it lives in its own column.
	Version int64 `json:"-"`
}

// Private holds private-room settings. CodeHash is an argon2id hash and never
// leaves the server.
type Private struct {
	Value    bool   `json:"value"`
	CodeHash string `json:"codeHash,omitempty"`
}

// RoomOptions is the room's game configuration.
type RoomOptions struct {
	TotalPlayers int `json:"totalPlayers"`
	MaxPlayers   int `json:"maxPlayers"`
	MaxMafias    int `json:"maxMafias"`
}

// DefaultRoomOptions mirrors the catalog defaults.
func DefaultRoomOptions() RoomOptions {
	return RoomOptions{MaxPlayers: 16, MaxMafias: 5}
}

// ActiveGame returns a pointer to the last game, or nil when none was played.
func (r *Room) ActiveGame() *Game {
	if r == nil || len(r.Games) == 0 {
		return nil
	}
	return &r.Games[len(r.Games)-1]
}

// InPlay reports whether the last game is still running.
func (r *Room) InPlay() bool {
	g := r.ActiveGame()
	return g != nil && g.Result == nil && g.GameLevel.Status == StatusInPlay
}

// RoomSummary is the client-facing view of a room: no game history and no secrets.
type RoomSummary struct {
	Room
	TotalGames  int   `json:"totalGames"`
	LastGame    *Game `json:"lastGame,omitempty"`
	LiveMembers any   `json:"liveMembers,omitempty"`
}

// Summary strips the history and private code hash off a room.
func (r *Room) Summary() RoomSummary {
	s := RoomSummary{Room: *r, TotalGames: len(r.Games)}
	s.Private.CodeHash = ""
	s.Games = []Game{}
	if g := r.ActiveGame(); g != nil {
		last := *g
		s.LastGame = &last
	}
	return s
}

// Game is one played round within a room.
type Game struct {
	ID             string        `json:"id"`
	Number         int           `json:"number"`
	Players        []PlayerEntry `json:"players"`
	Days           []Day         `json:"days"`
	Nights         []Night       `json:"nights"`
	GameLevel      PhaseState    `json:"gameLevel"`
	Result         *Result       `json:"result,omitempty"`
	AfterLeaveData *AfterLeave   `json:"afterLeaveData,omitempty"`
	Rating         []RatingEntry `json:"rating,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// CurrentDay returns the last day of the game, or nil.
func (g *Game) CurrentDay() *Day {
	if g == nil || len(g.Days) == 0 {
		return nil
	}
	return &g.Days[len(g.Days)-1]
}

// CurrentNight returns the last night of the game, or nil.
func (g *Game) CurrentNight() *Night {
	if g == nil || len(g.Nights) == 0 {
		return nil
	}
	return &g.Nights[len(g.Nights)-1]
}

// Winners of a finished game.
const (
	WinnersMafia        = "Mafia"
	WinnersCitizens     = "Citizens"
	WinnersSerialKiller = "Serial Killer"
	WinnersNone         = "Non"
)

// Result marks a game as finished.
type Result struct {
	Value      bool       `json:"value"`
	Winners    string     `json:"winners"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// AfterLeaveSpeechToNext is the only after-leave action the reconciler knows.
const AfterLeaveSpeechToNext = "speechToNextPlayer"

// AfterLeave records what the server must do if a participant drops mid-phase.
type AfterLeave struct {
	Value string       `json:"value"`
	Data  *SpeechState `json:"data,omitempty"`
}

// RatingEntry is a point award recorded during a game.
type RatingEntry struct {
	UserID      string `json:"userId"`
	Points      int    `json:"points"`
	GameStage   string `json:"gameStage,omitempty"`
	StageNumber int    `json:"stageNumber,omitempty"`
	Scenario    string `json:"scenario,omitempty"`
	RemoveOld   bool   `json:"removeOld,omitempty"`
}

// Day holds the day-phase ballots of a game.
type Day struct {
	Number              int          `json:"number"`
	Votes               KillBallot   `json:"votes"`
	LastVotes           RunoffBallot `json:"lastVotes,omitempty"`
	LastVotes2          RunoffBallot `json:"lastVotes2,omitempty"`
	PeopleDecide        RunoffBallot `json:"peopleDecide,omitempty"`
	FirstPlayerToSpeech *PlayerEntry `json:"firstPlayerToSpeech,omitempty"`
}

// Mark is a toggled night action against a player.
type Mark struct {
	Status   bool   `json:"status"`
	PlayerID string `json:"playerId"`
}

// RoleCheck is a sheriff or don investigation result.
type RoleCheck struct {
	PlayerID  string `json:"playerId"`
	CheckedBy string `json:"checkedBy,omitempty"`
	Result    bool   `json:"result"`
}

// Night holds the night-phase ballot and special-role outcomes.
type Night struct {
	Number               int        `json:"number"`
	Votes                KillBallot `json:"votes"`
	SafePlayer           *Mark      `json:"safePlayer,omitempty"`
	KilledBySerialKiller *Mark      `json:"killedBySerialKiller,omitempty"`
	FindSherif           *RoleCheck `json:"findSherif,omitempty"`
	FindMafia            *RoleCheck `json:"findMafia,omitempty"`
}
