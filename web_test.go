/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Seednode/newyear/internal/barrage"
	"github.com/Seednode/newyear/internal/lottery"
	"github.com/Seednode/newyear/internal/store"
)

const testAdminKey = "auld-lang-syne"

type testParty struct {
	cfg     *Config
	party   *party
	handler http.Handler
}

// newTestParty starts a party whose selection loop never fires on its own,
// so only posted wishes reach the wall.
func newTestParty(t *testing.T, mutate func(*Config)) *testParty {
	t.Helper()

	cfg := validConfig()
	cfg.deadline = "2099-01-01T00:00:00"
	cfg.barrage.MinInterval = time.Hour
	cfg.barrage.MaxInterval = time.Hour
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.validate())

	ctx, cancel := context.WithCancel(context.Background())

	p, err := newParty(ctx, cfg, zerolog.Nop())
	if err != nil {
		cancel()
		require.NoError(t, err)
	}

	p.run(ctx)

	t.Cleanup(func() {
		cancel()
		p.close()
	})

	errs := make(chan error, 64)

	return &testParty{cfg: cfg, party: p, handler: newHandler(cfg, p, errs)}
}

func withDatabase(t *testing.T) func(*Config) {
	return func(cfg *Config) {
		cfg.database = "sqlite:" + filepath.Join(t.TempDir(), "newyear.db")
	}
}

func withAdmin(t *testing.T) func(*Config) {
	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminKey), bcrypt.MinCost)
	require.NoError(t, err)

	return func(cfg *Config) {
		cfg.adminHash = string(hash)
	}
}

func chain(mutators ...func(*Config)) func(*Config) {
	return func(cfg *Config) {
		for _, m := range mutators {
			m(cfg)
		}
	}
}

func (tp *testParty) do(method, path, body string, headers map[string]string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	tp.handler.ServeHTTP(rec, req)

	return rec
}

func deviceCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()

	for _, c := range rec.Result().Cookies() {
		if c.Name == deviceCookieName {
			return c
		}
	}

	require.FailNow(t, "no device cookie set")
	return nil
}

func TestHealthCheck_Offline(t *testing.T) {
	tp := newTestParty(t, nil)

	rec := tp.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ok\n", rec.Body.String())
}

func TestHealthCheck_Database(t *testing.T) {
	tp := newTestParty(t, withDatabase(t))

	rec := tp.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ok\n", rec.Body.String())
}

func TestVersionAndSecurityHeaders(t *testing.T) {
	tp := newTestParty(t, nil)

	rec := tp.do(http.MethodGet, "/version", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "newyear v"+releaseVersion+"\n", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'self'")
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestHomePage_SetsDeviceCookie(t *testing.T) {
	tp := newTestParty(t, nil)

	rec := tp.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "assets/app.js")

	c := deviceCookie(t, rec)
	assert.NotEmpty(t, c.Value)
	assert.True(t, c.HttpOnly)
}

func TestAssets(t *testing.T) {
	tp := newTestParty(t, nil)

	rec := tp.do(http.MethodGet, "/assets/app.js", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/javascript; charset=utf-8", rec.Header().Get("Content-Type"))

	rec = tp.do(http.MethodGet, "/assets/missing.js", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = tp.do(http.MethodGet, "/favicon.svg", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
}

func TestQRCode(t *testing.T) {
	tp := newTestParty(t, nil)

	rec := tp.do(http.MethodGet, "/qr", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))
}

func TestPrefixedRoutes(t *testing.T) {
	tp := newTestParty(t, func(cfg *Config) { cfg.prefix = "/party" })

	assert.Equal(t, http.StatusOK, tp.do(http.MethodGet, "/party/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, tp.do(http.MethodGet, "/party/assets/app.css", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, tp.do(http.MethodGet, "/healthz", "", nil).Code)
}

func TestContent(t *testing.T) {
	tp := newTestParty(t, nil)

	rec := tp.do(http.MethodGet, "/api/content", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.NotEmpty(t, got["title"])
	assert.NotEmpty(t, got["prizes"])
}

func TestPostMessage(t *testing.T) {
	tp := newTestParty(t, nil)

	rec := tp.do(http.MethodPost, "/api/messages", `{"text":"   "}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = tp.do(http.MethodPost, "/api/messages", `{"text":"`+strings.Repeat("烟", maxWishLength+1)+`"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = tp.do(http.MethodPost, "/api/messages", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = tp.do(http.MethodPost, "/api/messages", `{"text":"  Happy new year!  "}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var m barrage.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "Happy new year!", m.Text)
	assert.Len(t, m.ID, 26)

	cookie := deviceCookie(t, rec)

	rec = tp.do(http.MethodPost, "/api/messages", `{"text":"again"}`, nil, cookie)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = tp.do(http.MethodGet, "/api/messages", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var pool []barrage.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pool))
	assert.Contains(t, pool, m)

	assert.Eventually(t, func() bool {
		rec := tp.do(http.MethodGet, "/api/barrage", "", nil)

		var bubbles []barrage.Bubble
		if err := json.Unmarshal(rec.Body.Bytes(), &bubbles); err != nil {
			return false
		}
		for _, b := range bubbles {
			if b.ID == m.ID {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestSongs_OfflinePlaylist(t *testing.T) {
	tp := newTestParty(t, nil)

	rec := tp.do(http.MethodGet, "/api/songs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var songs []store.Song
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &songs))
	assert.Len(t, songs, len(tp.party.content.Playlist))
}

func TestLottery_Offline(t *testing.T) {
	tp := newTestParty(t, nil)

	rec := tp.do(http.MethodGet, "/api/lottery", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st lottery.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.False(t, st.Closed)
	assert.Positive(t, st.Countdown.Days)

	rec = tp.do(http.MethodPost, "/api/lottery/register", `{"user_name":"Mei"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	t.Run("not mounted without a hash", func(t *testing.T) {
		tp := newTestParty(t, nil)

		rec := tp.do(http.MethodPost, "/api/lottery/draw", "", map[string]string{adminKeyHeader: testAdminKey})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		tp := newTestParty(t, withAdmin(t))

		rec := tp.do(http.MethodPost, "/api/lottery/draw", "", map[string]string{adminKeyHeader: "guess"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = tp.do(http.MethodPost, "/api/lottery/draw", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("offline draw", func(t *testing.T) {
		tp := newTestParty(t, withAdmin(t))

		rec := tp.do(http.MethodPost, "/api/lottery/draw", "", map[string]string{adminKeyHeader: testAdminKey})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestLottery_Database(t *testing.T) {
	tp := newTestParty(t, chain(withDatabase(t), withAdmin(t)))
	admin := map[string]string{adminKeyHeader: testAdminKey}

	rec := tp.do(http.MethodPost, "/api/lottery/register", `{"user_name":"Mei"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	mei := deviceCookie(t, rec)

	rec = tp.do(http.MethodPost, "/api/lottery/register", `{"user_name":"Someone else"}`, nil, mei)
	require.Equal(t, http.StatusOK, rec.Code)

	var reg lottery.Registration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	assert.Equal(t, "Mei", reg.UserName)
	assert.True(t, reg.Already)

	rec = tp.do(http.MethodPost, "/api/lottery/register", `{"user_name":"Mei"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = tp.do(http.MethodPost, "/api/lottery/register", `{"user_name":"Ravi"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = tp.do(http.MethodPost, "/api/lottery/draw", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = tp.do(http.MethodPost, "/api/lottery/draw", "", admin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = tp.do(http.MethodGet, "/api/lottery", "", nil, mei)
	require.Equal(t, http.StatusOK, rec.Code)

	var st lottery.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Drawn)
	assert.True(t, st.Closed)
	assert.Equal(t, "Mei", st.Registered)
	assert.ElementsMatch(t, []string{"Mei", "Ravi"}, st.Participants)
	assert.Len(t, st.Winners, 2)

	rec = tp.do(http.MethodPost, "/api/lottery/reset", "", admin)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = tp.do(http.MethodGet, "/api/lottery", "", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.False(t, st.Drawn)
	assert.False(t, st.Closed)
}

func TestLottery_DrawWithoutEntrantsClosesSignUp(t *testing.T) {
	tp := newTestParty(t, chain(withDatabase(t), withAdmin(t)))
	admin := map[string]string{adminKeyHeader: testAdminKey}

	rec := tp.do(http.MethodPost, "/api/lottery/draw", "", admin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = tp.do(http.MethodPost, "/api/lottery/register", `{"user_name":"Late"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = tp.do(http.MethodPost, "/api/lottery/reset", "", admin)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = tp.do(http.MethodPost, "/api/lottery/register", `{"user_name":"Late"}`, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSongs_Database(t *testing.T) {
	tp := newTestParty(t, chain(withDatabase(t), withAdmin(t)))
	admin := map[string]string{adminKeyHeader: testAdminKey}

	rec := tp.do(http.MethodPost, "/api/songs", `{"title":"","audio_url":"https://example.com/a.mp3"}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = tp.do(http.MethodPost, "/api/songs", `{"title":"Auld Lang Syne","artist":"Traditional","audio_url":"https://example.com/a.mp3"}`, admin)
	require.Equal(t, http.StatusCreated, rec.Code)

	var song store.Song
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &song))
	require.Positive(t, song.ID)

	rec = tp.do(http.MethodGet, "/api/songs", "", nil)
	var songs []store.Song
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &songs))
	assert.Equal(t, []store.Song{song}, songs)

	rec = tp.do(http.MethodPut, "/api/songs/abc", `{"title":"x","audio_url":"y"}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = tp.do(http.MethodDelete, "/api/songs/"+jsonNumber(song.ID), "", admin)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = tp.do(http.MethodDelete, "/api/songs/"+jsonNumber(song.ID), "", admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func jsonNumber(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestPostMessage_Stored(t *testing.T) {
	tp := newTestParty(t, withDatabase(t))

	rec := tp.do(http.MethodPost, "/api/messages", `{"text":"Stay healthy","user_name":"Mei"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var m barrage.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))

	assert.Eventually(t, func() bool {
		stored, err := tp.party.backend.RecentMessages(context.Background(), 10)
		if err != nil {
			return false
		}
		for _, s := range stored {
			if s.ID == m.ID {
				return s.Text == "Stay healthy" && s.UserName == "Mei"
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWebsocket_Wish(t *testing.T) {
	tp := newTestParty(t, nil)

	conn := dialWS(t, tp)

	var snapshot wallSnapshot
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "snapshot", snapshot.Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "wish", Text: "Peace and joy"}))

	var accepted, spawned bool
	var acceptedID, spawnedID string

	for !(accepted && spawned) {
		var msg struct {
			Type   string         `json:"type"`
			ID     string         `json:"id"`
			Bubble barrage.Bubble `json:"bubble"`
		}
		require.NoError(t, conn.ReadJSON(&msg))

		switch msg.Type {
		case "wish_accepted":
			accepted = true
			acceptedID = msg.ID
		case string(barrage.EventSpawned):
			spawned = true
			spawnedID = msg.Bubble.ID
			assert.Equal(t, "Peace and joy", msg.Bubble.Text)
		}
	}

	assert.Equal(t, acceptedID, spawnedID)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "wish", Text: ""}))

	var failure SimpleMessage
	require.NoError(t, conn.ReadJSON(&failure))
	assert.Equal(t, "error", failure.Type)
	assert.Equal(t, errEmptyWish.Error(), failure.Message)
}

func dialWS(t *testing.T, tp *testParty) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(tp.handler)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	return conn
}

func TestWebsocket_SnapshotIncludesActiveBubbles(t *testing.T) {
	tp := newTestParty(t, nil)

	m, err := tp.party.postWish("device-1", "", "Already floating")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, b := range tp.party.wall.Snapshot() {
			if b.ID == m.ID {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	conn := dialWS(t, tp)

	var snapshot wallSnapshot
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "snapshot", snapshot.Type)
	require.Len(t, snapshot.Bubbles, 1)

	b := snapshot.Bubbles[0]
	assert.Equal(t, m.ID, b.ID)
	assert.Greater(t, b.ExpiresAt, snapshot.Now)
	assert.LessOrEqual(t, b.ExpiresAt-snapshot.Now, b.DurationMS)
}

func TestParty_CloseStopsWrites(t *testing.T) {
	tp := newTestParty(t, withDatabase(t))

	require.True(t, tp.party.beginWrite())
	tp.party.writes.Done()

	tp.party.close()
	assert.False(t, tp.party.beginWrite())

	m, err := tp.party.postWish("device-1", "", "Late to the party")
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)

	assert.NotPanics(t, tp.party.close)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		prefix, path, want string
	}{
		{"", "/", "/"},
		{"", "/assets/app.js", "/assets/*"},
		{"", "/api/songs/12", "/api/songs/:id"},
		{"", "/api/songs", "/api/songs"},
		{"/party", "/party/api/lottery", "/api/lottery"},
		{"", "/wp-admin", "other"},
		{"", "/assets/", "other"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.prefix, tt.path), tt.path)
	}
}

func TestHumanReadableSize(t *testing.T) {
	assert.Equal(t, "999 B", humanReadableSize(999))
	assert.Equal(t, "1.5 kB", humanReadableSize(1500))
	assert.Equal(t, "2.0 MB", humanReadableSize(2_000_000))
}

func TestCooldowns(t *testing.T) {
	now := time.Date(2025, time.December, 31, 23, 0, 0, 0, time.UTC)

	c := newCooldowns(time.Second)
	c.now = func() time.Time { return now }

	assert.True(t, c.allow("a"))
	assert.False(t, c.allow("a"))
	assert.True(t, c.allow("b"))

	now = now.Add(time.Second)
	assert.True(t, c.allow("a"))

	off := newCooldowns(0)
	assert.True(t, off.allow("a"))
	assert.True(t, off.allow("a"))
}
