package game

import (
	"math/rand/v2"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jason-s-yu/mafia/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countRoles(roles []models.Role) map[string]int {
	out := map[string]int{}
	for _, r := range roles {
		out[r.Value]++
	}
	return out
}

func TestExpandRolesWithDon(t *testing.T) {
	configured := []models.Role{
		{Value: models.RoleCitizen}, {Value: models.RoleMafia},
		{Value: models.RoleDon}, {Value: "doctor"},
	}
	got := ExpandRoles(configured, models.RoomOptions{MaxPlayers: 10, MaxMafias: 3})

	assert.Len(t, got, 10)
	assert.Equal(t, map[string]int{
		models.RoleDon:     1,
		models.RoleMafia:   2,
		"doctor":           1,
		models.RoleCitizen: 6,
	}, countRoles(got))
}

func TestExpandRolesWithoutDon(t *testing.T) {
	configured := []models.Role{{Value: models.RoleCitizen}, {Value: models.RoleMafia}}
	got := ExpandRoles(configured, models.RoomOptions{MaxPlayers: 8, MaxMafias: 2})

	assert.Equal(t, map[string]int{models.RoleMafia: 2, models.RoleCitizen: 6}, countRoles(got))
}

func TestExpandRolesSerialKillerAllowance(t *testing.T) {
	tests := []struct {
		name      string
		maxMafias int
		withDon   bool
		want      int
	}{
		{"three mafia", 3, false, 2},
		{"single mafia", 1, false, 1},
		{"don leaves one mafia", 2, true, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			configured := []models.Role{
				{Value: models.RoleCitizen}, {Value: models.RoleMafia}, {Value: models.RoleSerialKiller},
			}
			if tc.withDon {
				configured = append(configured, models.Role{Value: models.RoleDon})
			}
			got := ExpandRoles(configured, models.RoomOptions{MaxPlayers: 9, MaxMafias: tc.maxMafias})
			require.Len(t, got, 9)
			for _, r := range got {
				if r.Value == models.RoleSerialKiller {
					require.NotNil(t, r.TotalKills)
					assert.Equal(t, tc.want, *r.TotalKills)
				} else {
					assert.Nil(t, r.TotalKills)
				}
			}
		})
	}
}

func TestShuffleIsPermutation(t *testing.T) {
	roles := ExpandRoles([]models.Role{{Value: models.RoleCitizen}, {Value: models.RoleMafia}, {Value: "doctor"}},
		models.RoomOptions{MaxPlayers: 7, MaxMafias: 2})
	before := countRoles(roles)

	Shuffle(roles, rand.New(rand.NewPCG(1, 2)))
	assert.Equal(t, before, countRoles(roles))

	Shuffle(roles, nil)
	assert.Equal(t, before, countRoles(roles))
}

func TestAssignRoles(t *testing.T) {
	faker := gofakeit.New(42)
	seats := make([]Seat, 4)
	for i := range seats {
		seats[i] = Seat{UserID: faker.UUID(), UserName: faker.Username()}
	}
	roles := []models.Role{{Value: models.RoleMafia}, {Value: models.RoleCitizen}, {Value: models.RoleCitizen}, {Value: "sheriff"}}

	players, err := AssignRoles(seats, roles)
	require.NoError(t, err)
	require.Len(t, players, 4)
	for i, p := range players {
		assert.Equal(t, seats[i].UserID, p.UserID)
		assert.Equal(t, i+1, p.PlayerNumber)
		assert.Equal(t, roles[i].Value, p.Role.Value)
		assert.False(t, p.Death)
	}

	_, err = AssignRoles(seats[:3], roles)
	assert.ErrorIs(t, err, ErrRoleCount)
}

func TestToggleSerialKill(t *testing.T) {
	kills := 2
	players := []models.PlayerEntry{
		{UserID: "sk", PlayerNumber: 1, Role: &models.Role{Value: models.RoleSerialKiller, TotalKills: &kills}},
		{UserID: "v", PlayerNumber: 2, Role: &models.Role{Value: models.RoleCitizen}},
	}
	night := &models.Night{Number: 1}

	require.True(t, ToggleSerialKill(players, night, true, "v"))
	assert.Equal(t, 1, *players[0].Role.TotalKills)
	require.NotNil(t, night.KilledBySerialKiller)
	assert.Equal(t, "v", night.KilledBySerialKiller.PlayerID)

	// retargeting does not spend a second kill
	ToggleSerialKill(players, night, true, "sk")
	assert.Equal(t, 1, *players[0].Role.TotalKills)

	ToggleSerialKill(players, night, false, "")
	assert.Equal(t, 2, *players[0].Role.TotalKills)
	assert.Nil(t, night.KilledBySerialKiller)

	// clearing twice refunds once
	ToggleSerialKill(players, night, false, "")
	assert.Equal(t, 2, *players[0].Role.TotalKills)

	assert.False(t, ToggleSerialKill(players[1:], night, true, "v"))
}
