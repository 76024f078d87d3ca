package game

import (
	"testing"

	"github.com/jason-s-yu/mafia/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roster(n int) []models.PlayerEntry {
	out := make([]models.PlayerEntry, n)
	for i := range out {
		out[i] = models.PlayerEntry{
			UserID:       string(rune('a' + i)),
			PlayerNumber: i + 1,
			Role:         &models.Role{Value: models.RoleCitizen},
		}
	}
	return out
}

func TestNextSpeakerAdvances(t *testing.T) {
	players := roster(5)

	next, end := NextSpeaker(players, &players[2], &players[0])
	require.NotNil(t, next)
	assert.Equal(t, 4, next.PlayerNumber)
	assert.False(t, end)
}

func TestNextSpeakerWrapEndsRound(t *testing.T) {
	players := roster(5)

	next, end := NextSpeaker(players, &players[4], &players[0])
	assert.Nil(t, next)
	assert.True(t, end)
}

func TestNextSpeakerWrapsWhenFirstWasLater(t *testing.T) {
	players := roster(5)

	next, end := NextSpeaker(players, &players[4], &players[2])
	require.NotNil(t, next)
	assert.Equal(t, 1, next.PlayerNumber)
	assert.False(t, end)

	next, end = NextSpeaker(players, &players[1], &players[2])
	require.NotNil(t, next)
	assert.Equal(t, 3, next.PlayerNumber)
	assert.True(t, end, "reaching the opener closes the round")
}

func TestNextSpeakerSkipsDead(t *testing.T) {
	players := roster(5)
	players[3].Death = true
	players[0].Death = true

	next, end := NextSpeaker(players, &players[2], &players[1])
	require.NotNil(t, next)
	assert.Equal(t, 5, next.PlayerNumber)
	assert.False(t, end)

	// wrap target is 2 (1 is dead), which is the opener
	next, end = NextSpeaker(players, &players[4], &players[1])
	assert.Nil(t, next)
	assert.True(t, end)
}

func TestNextSpeakerOpenerLeftKeepsRoundGoing(t *testing.T) {
	all := roster(4)
	opener := all[1]
	// seat 2 opened the day, held the floor and left
	players := []models.PlayerEntry{all[0], all[2], all[3]}

	var spoke []int
	current := &opener
	for {
		next, end := NextSpeaker(players, current, &opener)
		if end {
			assert.Nil(t, next)
			break
		}
		require.NotNil(t, next)
		spoke = append(spoke, next.PlayerNumber)
		current = next
		require.Less(t, len(spoke), 10, "round never closed")
	}
	assert.Equal(t, []int{3, 4, 1}, spoke)
}

func TestNextSpeakerOpenerLeftMidRound(t *testing.T) {
	all := roster(5)
	opener := all[3]
	players := []models.PlayerEntry{all[0], all[1], all[2], all[4]}

	next, end := NextSpeaker(players, &players[1], &opener)
	require.NotNil(t, next)
	assert.Equal(t, 3, next.PlayerNumber)
	assert.False(t, end)

	// seat 3 spoke last; stepping past the empty seat 4 closes the round
	next, end = NextSpeaker(players, &players[2], &opener)
	assert.Nil(t, next)
	assert.True(t, end)
}

func TestNextSpeakerDoesNotMutate(t *testing.T) {
	players := roster(3)
	next, _ := NextSpeaker(players, &players[0], nil)
	require.NotNil(t, next)
	next.Death = true
	assert.False(t, players[1].Death)
}

func TestNextSpeakerEmptyRoster(t *testing.T) {
	next, end := NextSpeaker(nil, nil, nil)
	assert.Nil(t, next)
	assert.True(t, end)
}

func TestFirstSpeakerForDay(t *testing.T) {
	players := roster(4)

	assert.Equal(t, 1, FirstSpeakerForDay(players, 1, nil).PlayerNumber)
	assert.Equal(t, 3, FirstSpeakerForDay(players, 2, &players[1]).PlayerNumber)
	// rotates past the last seat without ending
	assert.Equal(t, 1, FirstSpeakerForDay(players, 3, &players[3]).PlayerNumber)

	players[2].Death = true
	assert.Equal(t, 4, FirstSpeakerForDay(players, 2, &players[1]).PlayerNumber)

	assert.Nil(t, FirstSpeakerForDay(nil, 1, nil))
}
