package hub

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDrops struct{ n int }

func (c *countingDrops) MessageDropped() { c.n++ }

func newTestHub(drops DropCounter) *Hub {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return New(l, drops)
}

func drain(c *Conn) []Message {
	var out []Message
	for {
		select {
		case m := <-c.OutChan:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestRoomGroups(t *testing.T) {
	h := newTestHub(nil)
	a := NewConn("a", "u1", 8, nil)
	b := NewConn("b", "u2", 8, nil)
	c := NewConn("c", "u3", 8, nil)
	for _, conn := range []*Conn{a, b, c} {
		h.Register(conn)
	}
	h.JoinGroup("a", "r1")
	h.JoinGroup("b", "r1")
	h.JoinGroup("c", "r2")

	h.ToRoom("r1", "allUsers", nil)
	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
	assert.Empty(t, drain(c))

	h.ToRoomExcept("r1", "a", "userJoined", map[string]string{"userId": "u2"})
	assert.Empty(t, drain(a))
	got := drain(b)
	require.Len(t, got, 1)
	assert.Equal(t, "userJoined", got[0].Type)

	h.ToAll("updateRoomInfo", nil)
	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
	assert.Len(t, drain(c), 1)

	h.JoinGroup("a", "r2")
	assert.Equal(t, 1, h.RoomSize("r1"))
	assert.Equal(t, 2, h.RoomSize("r2"))

	h.LeaveGroup("b")
	assert.Equal(t, 0, h.RoomSize("r1"))
}

func TestToConnectionAndUnregister(t *testing.T) {
	h := newTestHub(nil)
	cancelled := false
	a := NewConn("a", "u1", 8, func() { cancelled = true })
	h.Register(a)
	h.JoinGroup("a", "r1")

	h.ToConnection("a", "userConnected", nil)
	h.ToConnection("missing", "userConnected", nil)
	assert.Len(t, drain(a), 1)

	h.Unregister("a")
	h.Unregister("a")
	assert.True(t, cancelled)
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0, h.RoomSize("r1"))
}

func TestFullQueueDrops(t *testing.T) {
	drops := &countingDrops{}
	h := newTestHub(drops)
	a := NewConn("a", "u1", 1, nil)
	h.Register(a)

	h.ToConnection("a", "one", nil)
	h.ToConnection("a", "two", nil)
	assert.Equal(t, 1, drops.n)

	msgs := drain(a)
	require.Len(t, msgs, 1)
	assert.Equal(t, "one", msgs[0].Type)

	a.WriteError("bad")
	msgs = drain(a)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0].Type)
}

func TestCloseAllCancelsEveryConn(t *testing.T) {
	h := newTestHub(nil)
	cancelled := map[string]int{}
	for _, id := range []string{"a", "b"} {
		id := id
		h.Register(NewConn(id, "u-"+id, 4, func() { cancelled[id]++ }))
	}

	h.CloseAll()
	h.CloseAll()

	assert.Equal(t, map[string]int{"a": 1, "b": 1}, cancelled)
	assert.Equal(t, 2, h.Len(), "handlers unregister on their own")
}
