package models

// Profile is the read-only identity view the orchestrator needs for presence
// display plus the aggregate counters it bumps at game end.
type Profile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Cover       string `json:"cover,omitempty"`
	Admin       bool   `json:"admin,omitempty"`
	IsEphemeral bool   `json:"is_ephemeral"`
	TotalGames  int    `json:"totalGames"`
	Rating      int    `json:"rating"`
	PushToken   string `json:"-"`
}
