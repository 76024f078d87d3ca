// internal/session/events.go
package session

import (
	"encoding/json"
	"fmt"

	"github.com/jason-s-yu/mafia/internal/game"
	"github.com/jason-s-yu/mafia/internal/models"
	"github.com/jason-s-yu/mafia/internal/presence"
)

// Inbound event types. The names are part of the client contract.
const (
	EvJoinRoom     = "joinRoom"
	EvLeaveRoom    = "leaveRoom"
	EvChangeType   = "changeType"
	EvReadyToStart = "readyToStart"
	EvStartPlay    = "startPlay"
	EvConfirmRole  = "confirmRole"

	EvDealingCardsStart      = "DealingCardsTimerStart"
	EvGettingKnowMafiasStart = "GettingKnowMafiasTimerStart"
	EvSpeechStart            = "SpeechTimerStart"
	EvChangeSpeaker          = "changeSpeaker"
	EvNightStart             = "NightTimerStart"
	EvCommonStart            = "CommonTimerStart"
	EvLastWordStart          = "LastWordTimerStart"
	EvSkipLastTimer          = "skipLastTimer"
	EvJustifyStart           = "JustifyTimerStart"
	EvJustify2Start          = "JustifyTimer2Start"
	EvSkipNominationSpeech   = "SkipNominationSpeech"
	EvVotingStart            = "VotingTimerStart"
	EvVoting2Start           = "VotingTimer2Start"
	EvPeopleDecideStart      = "PeopleDecideTimerStart"

	EvVoiceToLeave     = "voiceToLeave"
	EvVoiceToKill      = "voiceToKill"
	EvExitPlayer       = "exitPlayer"
	EvCreateDay        = "createDay"
	EvCreateNight      = "createNight"
	EvDoctorAction     = "doctorAction"
	EvSerialKillerKill = "serialKillerKill"
	EvFindSherif       = "findSherif"
	EvFindMafia        = "findMafia"
	EvLastVote         = "lastVote"
	EvLastVote2        = "lastVote2"
	EvPeopleDecide     = "peopleDecide"
	EvAfterLeaveData   = "afterLeaveData"
	EvAddRating        = "addRating"
	EvRerenderAuthUser = "rerenderAuthUser"
	EvNotifications    = "notifications"

	EvReconnect  = "reconnect"
	EvDisconnect = "disconnect"

	evPhaseExpired = "phaseExpired"
	evGraceExpired = "graceExpired"
)

// Outbound event types.
const (
	EvUserStatus            = "userStatus"
	EvUserConnected         = "userConnected"
	EvAllUsers              = "allUsers"
	EvUserJoined            = "userJoined"
	EvUserLeft              = "userLeft"
	EvUpdateRoomInfo        = "updateRoomInfo"
	EvUserStatusInRoom      = "userStatusInRoom"
	EvUpdatePlayers         = "updatePlayers"
	EvUpdateRoom            = "updateRoom"
	EvGameStarted           = "gameStarted"
	EvRoleConfirmed         = "roleConfirmed"
	EvFirstPlayerToSpeech   = "getFirstPlayerToSpeech"
	EvLastVotes             = "lastVotes"
	EvDecideVotes           = "decideVotes"
	EvUpdateRating          = "updateRating"
	EvExitPlayers           = "exitPlayers"
	EvGameOver              = "gameOver"
	EvRerenderedAuthUser    = "rerenderedAuthUser"
	EvUpdateNotifications   = "updateNotifications"
	EvError                 = "error"
	roomClosedMessage       = "Room closed"
	waitingForConfirmations = "Users are confirming own roles.."
	allRolesConfirmed       = "Getting to know mafias"
)

// Phase timers. Clients see "<name>Update" every tick and "<name>End" on expiry.
const (
	TimerDealingCards      = "DealingCardsTimer"
	TimerGettingKnowMafias = "GettingKnowMafiasTimer"
	TimerSpeech            = "SpeechTimer"
	TimerNight             = "NightTimer"
	TimerCommon            = "CommonTimer"
	TimerLastWord          = "LastWordTimer"
	TimerJustify           = "JustifyTimer"
	TimerJustify2          = "JustifyTimer2"
	TimerVoting            = "VotingTimer"
	TimerVoting2           = "VotingTimer2"
	TimerPeopleDecide      = "PeopleDecideTimer"
)

// TimerUpdate is the per-tick event name of a phase timer.
func TimerUpdate(name string) string { return name + "Update" }

// TimerEnd is the expiry event name of a phase timer.
func TimerEnd(name string) string { return name + "End" }

// decode unmarshals an event payload. An empty payload yields the zero value.
func decode[T any](ev Event) (T, error) {
	var out T
	if len(ev.Payload) == 0 || string(ev.Payload) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return out, fmt.Errorf("%w: invalid %s payload: %v", ErrPrecondition, ev.Type, err)
	}
	return out, nil
}

type joinPayload struct {
	Type string `json:"type"`
	Code string `json:"code,omitempty"`
}

type changeTypePayload struct {
	UserID  string `json:"userId"`
	NewType string `json:"newType"`
}

type readyPayload struct {
	Status bool `json:"status"`
}

type nominationPayload struct {
	NominationNumber int                  `json:"nominationNumber"`
	Player           *models.PlayerEntry  `json:"player,omitempty"`
	List             []models.PlayerEntry `json:"list,omitempty"`
}

// votePayload accepts the field names every client generation has sent:
// victimId for nominations and kills, voteFor for runoffs.
type votePayload struct {
	VictimID string `json:"victimId,omitempty"`
	VoteFor  string `json:"voteFor,omitempty"`
	Target   string `json:"target,omitempty"`
}

func (v votePayload) target() string {
	switch {
	case v.Target != "":
		return v.Target
	case v.VoteFor != "":
		return v.VoteFor
	}
	return v.VictimID
}

type exitPayload struct {
	ExitPlayers     []models.PlayerEntry `json:"exitPlayers"`
	NextDayNumber   int                  `json:"nextDayNumber,omitempty"`
	NextNightNumber int                  `json:"nextNightNumber,omitempty"`
	After           string               `json:"after,omitempty"`
}

type exitResult struct {
	ExitPlayers     []models.PlayerEntry `json:"exitPlayers"`
	GameOver        *game.Outcome        `json:"gameOver,omitempty"`
	Players         []models.PlayerEntry `json:"players"`
	NextDayNumber   int                  `json:"nextDayNumber,omitempty"`
	NextNightNumber int                  `json:"nextNightNumber,omitempty"`
	After           string               `json:"after"`
}

type numberPayload struct {
	Number int `json:"number"`
}

// nightActionPayload carries a doctor save (safePlayer) or a serial killer
// mark (value). Both toggle off when false.
type nightActionPayload struct {
	PlayerID   string `json:"playerId"`
	SafePlayer bool   `json:"safePlayer,omitempty"`
	Value      bool   `json:"value,omitempty"`
}

// userLeft is what both the leaver and the room see.
type userLeft struct {
	UserID  string `json:"userId,omitempty"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

type allUsers struct {
	UsersInRoom []presence.Entry `json:"usersInRoom"`
	GameOver    bool             `json:"gameOver,omitempty"`
	Message     string           `json:"message,omitempty"`
}

type roomInfo struct {
	RoomID      string             `json:"roomId"`
	UsersInRoom []presence.Entry   `json:"usersInRoom"`
	GameLevel   *models.PhaseState `json:"gameLevel,omitempty"`
}

type statusInRoom struct {
	User   presence.Entry `json:"user"`
	Status string         `json:"status"`
}

type gameOver struct {
	Winners     string               `json:"winners"`
	Players     []models.PlayerEntry `json:"players"`
	UsersInRoom []presence.Entry     `json:"usersInRoom"`
}

type playersPayload struct {
	Players []models.PlayerEntry `json:"players"`
}

type speechEnd struct {
	GameStage          string               `json:"gameStage,omitempty"`
	NextPlayerToSpeech *models.PlayerEntry  `json:"nextPlayerToSpeech"`
	FirstSpeecher      *models.PlayerEntry  `json:"firstSpeecher"`
	NextDayNumber      int                  `json:"nextDayNumber"`
	Votes              models.KillBallot    `json:"votes"`
	SpeechEnd          bool                 `json:"speechEnd"`
	Players            []models.PlayerEntry `json:"players"`
}

type nightEnd struct {
	Players         []models.PlayerEntry `json:"players"`
	NextNightNumber int                  `json:"nextNightNumber"`
	Room            models.RoomSummary   `json:"room"`
	Votes           models.KillBallot    `json:"votes"`
}

type ballotEnd struct {
	LastVotes []game.TallyEntry    `json:"lastVotes"`
	Players   []models.PlayerEntry `json:"players"`
}

type decideEnd struct {
	Votes   []game.TallyEntry    `json:"votes"`
	Players []models.PlayerEntry `json:"players"`
}

type roleConfirmed struct {
	Value   string               `json:"value"`
	Options []string             `json:"options"`
	Players []models.PlayerEntry `json:"players"`
}

type timerState struct {
	Name      string `json:"name"`
	Remaining int    `json:"remaining"`
}

// connected resyncs a reconnecting participant.
type connected struct {
	models.RoomSummary
	RoomID   string      `json:"roomId"`
	RoomName string      `json:"roomName"`
	UserID   string      `json:"userId"`
	Type     string      `json:"type"`
	Timer    *timerState `json:"timer,omitempty"`
}
