package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/coder/websocket"
	"github.com/jason-s-yu/mafia/internal/auth"
	"github.com/jason-s-yu/mafia/internal/hub"
	"github.com/jason-s-yu/mafia/internal/models"
	"github.com/jason-s-yu/mafia/internal/presence"
	"github.com/jason-s-yu/mafia/internal/room"
	"github.com/jason-s-yu/mafia/internal/session"
	"github.com/jason-s-yu/mafia/internal/timer"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv      *Server
	issuer   *auth.Issuer
	store    *room.Store
	presence *presence.Registry
	router   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := room.NewStore(room.NewMemoryRepository(), logger)
	reg := presence.NewRegistry()
	h := hub.New(logger, nil)
	timers := timer.NewManager(logger)
	mgr := session.NewManager(session.Options{
		Store:    store,
		Presence: reg,
		Timers:   timers,
		Out:      h,
		Logger:   logger,
	})
	t.Cleanup(mgr.Close)

	issuer, err := auth.NewIssuer(time.Hour)
	require.NoError(t, err)

	srv := NewServer(ServerOptions{
		Sessions:    mgr,
		Store:       store,
		Presence:    reg,
		Hub:         h,
		Issuer:      issuer,
		AllowGuests: true,
		WSRateLimit: 100,
		WSRateBurst: 100,
		QueueSize:   32,
		Logger:      logger,
	})
	return &testEnv{srv: srv, issuer: issuer, store: store, presence: reg, router: srv.Routes(nil, nil)}
}

func (e *testEnv) token(t *testing.T, id auth.Identity) string {
	t.Helper()
	tok, err := e.issuer.CreateToken(id)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func newIdentity() auth.Identity {
	return auth.Identity{ID: gofakeit.UUID(), Name: gofakeit.Username()}
}

func (e *testEnv) createRoom(t *testing.T, token string, body map[string]any) models.RoomSummary {
	t.Helper()
	w := e.request(t, http.MethodPost, "/rooms", token, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sum models.RoomSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	return sum
}

func TestCreateListAndGetRoom(t *testing.T) {
	env := newTestEnv(t)
	founder := newIdentity()
	tok := env.token(t, founder)

	sum := env.createRoom(t, tok, map[string]any{
		"title":   "Friday night",
		"private": true,
		"code":    "1234",
		"options": map[string]int{"maxPlayers": 6, "maxMafias": 2},
	})
	assert.NotEmpty(t, sum.ID)
	assert.Equal(t, founder.ID, sum.FounderID)
	assert.True(t, sum.Private.Value)
	assert.Empty(t, sum.Private.CodeHash, "code hash never leaves the server")
	assert.Equal(t, 6, sum.Options.MaxPlayers)

	stored, err := env.store.Get(context.Background(), sum.ID)
	require.NoError(t, err)
	ok, err := auth.VerifyRoomCode("1234", stored.Private.CodeHash)
	require.NoError(t, err)
	assert.True(t, ok)

	env.presence.Connect("someone", "conn-1")
	env.presence.JoinRoom(presence.Entry{ParticipantID: "someone", ConnectionID: "conn-1", RoomID: sum.ID, Role: presence.RolePlayer})

	w := env.request(t, http.MethodGet, "/rooms", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Rooms []struct {
			ID          string `json:"_id"`
			LiveMembers int    `json:"liveMembers"`
		} `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, sum.ID, list.Rooms[0].ID)
	assert.Equal(t, 1, list.Rooms[0].LiveMembers)

	w = env.request(t, http.MethodGet, "/rooms/"+sum.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"userId":"someone"`)
}

func TestCreateRoomRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, newIdentity())

	w := env.request(t, http.MethodPost, "/rooms", "", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.request(t, http.MethodPost, "/rooms", tok, map[string]any{"title": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(t, http.MethodPost, "/rooms", tok, map[string]any{"title": "x", "private": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(t, http.MethodPost, "/rooms", tok, map[string]any{
		"title":   "x",
		"options": map[string]int{"maxPlayers": 4, "maxMafias": 4},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMissingRoom(t *testing.T) {
	env := newTestEnv(t)
	w := env.request(t, http.MethodGet, "/rooms/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLogsAndPeriodData(t *testing.T) {
	env := newTestEnv(t)
	sum := env.createRoom(t, env.token(t, newIdentity()), map[string]any{"title": "history"})

	ctx := context.Background()
	_, err := env.store.StartGame(ctx, sum.ID, []models.PlayerEntry{
		{UserID: "a", PlayerNumber: 1, Role: &models.Role{Value: models.RoleMafia, Confirm: true}},
		{UserID: "b", PlayerNumber: 2, Role: &models.Role{Value: models.RoleCitizen, Confirm: true}},
	})
	require.NoError(t, err)
	_, _, err = env.store.CreateDay(ctx, sum.ID, 1)
	require.NoError(t, err)

	w := env.request(t, http.MethodGet, "/rooms/"+sum.ID+"/logs?page=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs struct {
		Games    []models.Game `json:"games"`
		Total    int           `json:"total"`
		PageSize int           `json:"pageSize"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	assert.Len(t, logs.Games, 1)
	assert.Equal(t, 1, logs.Total)
	assert.Equal(t, room.LogsPageSize, logs.PageSize)

	w = env.request(t, http.MethodGet, "/rooms/"+sum.ID+"/logs?page=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(t, http.MethodGet, "/rooms/"+sum.ID+"/periodData?game=1&period=Days", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var periods struct {
		Period string       `json:"period"`
		Data   []models.Day `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &periods))
	require.Len(t, periods.Data, 1)
	assert.Equal(t, 1, periods.Data[0].Number)

	w = env.request(t, http.MethodGet, "/rooms/"+sum.ID+"/periodData?game=1&period=Weeks", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.request(t, http.MethodGet, "/rooms/"+sum.ID+"/periodData?game=9", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoomActionOverREST(t *testing.T) {
	env := newTestEnv(t)
	founder := newIdentity()
	tok := env.token(t, founder)
	sum := env.createRoom(t, tok, map[string]any{"title": "rest"})
	path := "/rooms/" + sum.ID + "/"

	w := env.request(t, http.MethodPatch, path+"launchRockets", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.request(t, http.MethodPatch, path+session.EvReconnect, tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "transport events are not actions")

	w = env.request(t, http.MethodPatch, path+session.EvReadyToStart, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.request(t, http.MethodPatch, path+session.EvJoinRoom, tok, map[string]string{"type": "player"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "joining needs a socket")

	w = env.request(t, http.MethodPatch, path+session.EvReadyToStart, tok, map[string]bool{"status": true})
	assert.Equal(t, http.StatusBadRequest, w.Code, "not in the room")

	env.presence.Connect(founder.ID, "conn-f")
	env.presence.JoinRoom(presence.Entry{ParticipantID: founder.ID, ConnectionID: "conn-f", RoomID: sum.ID, Role: presence.RolePlayer})
	w = env.request(t, http.MethodPatch, path+session.EvReadyToStart, tok, map[string]bool{"status": true})
	assert.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	e, _ := env.presence.Get(founder.ID)
	assert.True(t, e.ReadyToStart)

	w = env.request(t, http.MethodPatch, "/rooms/missing/"+session.EvCreateDay, tok, map[string]int{"number": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readUntil(t *testing.T, ctx context.Context, c *websocket.Conn, typ string) json.RawMessage {
	t.Helper()
	for {
		_, data, err := c.Read(ctx)
		require.NoError(t, err, "waiting for %s", typ)
		var msg wsMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == typ {
			return msg.Payload
		}
	}
}

func send(t *testing.T, ctx context.Context, c *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, websocket.MessageText, data))
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestRoomSocketJoinAndAct(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	founder := newIdentity()
	tok := env.token(t, founder)
	sum := env.createRoom(t, tok, map[string]any{"title": "socket"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, wsURL(ts), &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   http.Header{"Authorization": []string{"Bearer " + tok}},
	})
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	var status string
	require.NoError(t, json.Unmarshal(readUntil(t, ctx, c, session.EvUserStatus), &status))
	assert.Equal(t, presence.StatusOnline, status)

	send(t, ctx, c, map[string]any{"type": session.EvJoinRoom, "roomId": sum.ID, "payload": map[string]string{"type": "player"}})
	var users struct {
		UsersInRoom []presence.Entry `json:"usersInRoom"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, ctx, c, session.EvAllUsers), &users))
	require.Len(t, users.UsersInRoom, 1)
	assert.Equal(t, founder.ID, users.UsersInRoom[0].ParticipantID)

	send(t, ctx, c, map[string]any{"type": "bogus", "roomId": sum.ID})
	assert.Contains(t, string(readUntil(t, ctx, c, session.EvError)), "unknown event type")

	c.Write(ctx, websocket.MessageText, []byte("{not json"))
	assert.Contains(t, string(readUntil(t, ctx, c, session.EvError)), "invalid message format")

	w := env.request(t, http.MethodPatch, "/rooms/"+sum.ID+"/"+session.EvReadyToStart, tok, map[string]bool{"status": true})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	readUntil(t, ctx, c, session.EvUpdatePlayers)
}

func TestRoomSocketRequiresSubprotocol(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, wsURL(ts), nil)
	require.NoError(t, err)
	defer c.CloseNow()

	_, _, err = c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusCode(BadSubprotocolError), websocket.CloseStatus(err))
}

func TestRoomSocketMintsGuest(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, resp, err := websocket.Dial(ctx, wsURL(ts), &websocket.DialOptions{Subprotocols: []string{subprotocol}})
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	var token string
	for _, ck := range resp.Cookies() {
		if ck.Name == authCookie {
			token = ck.Value
		}
	}
	require.NotEmpty(t, token)
	id, err := env.issuer.Authenticate(token)
	require.NoError(t, err)
	assert.True(t, id.Guest)

	readUntil(t, ctx, c, session.EvUserStatus)
	_, ok := env.presence.Get(id.ID)
	assert.True(t, ok)
}

func TestRequestToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	req.Header.Set("Cookie", "theme=dark; auth_token=from-cookie; lang=en")
	assert.Equal(t, "from-query", requestToken(req))

	req.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", requestToken(req))

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Cookie", "theme=dark; auth_token=from-cookie; lang=en")
	assert.Equal(t, "from-cookie", requestToken(req))

	assert.Empty(t, extractCookieToken("theme=dark", authCookie))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(room.ErrNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(session.ErrPrecondition))
	assert.Equal(t, http.StatusConflict, statusFor(room.ErrGameFinished))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(session.ErrClosed))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
