package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/julienschmidt/httprouter"
)

// Test helpers shared by the suite. Tests run against a fresh in-memory
// database and swap the package-level db handle, so the suite does not use
// t.Parallel().

var testDBSeq atomic.Int64

func setupTestDB(t *testing.T) {
	t.Helper()

	// Each test gets its own shared-cache memory database so connections
	// from the pool all see the same data.
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", testDBSeq.Add(1))

	handle, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	handle.SetMaxOpenConns(1)

	db = handle
	if err := initDB(); err != nil {
		t.Fatalf("init test db: %v", err)
	}

	t.Cleanup(func() {
		handle.Close()
	})
}

func testConfig() *Config {
	return &Config{
		autoStart:    3,
		pollInterval: 50 * time.Millisecond,
	}
}

type testPlayer struct {
	userID string
	token  string
}

func newTestPlayer(t *testing.T, name string) testPlayer {
	t.Helper()

	id := uuid.NewString()
	_, err := db.Exec("INSERT INTO player (id, name, secret_code) VALUES (?, ?, ?)", id, name, "c0de")
	if err != nil {
		t.Fatalf("insert player %q: %v", name, err)
	}
	token, err := createAuthSession(id)
	if err != nil {
		t.Fatalf("create session for %q: %v", name, err)
	}
	return testPlayer{userID: id, token: token}
}

func newTestGame(t *testing.T, creator testPlayer, name string) Game {
	t.Helper()

	game := Game{
		ID:        uuid.NewString(),
		Name:      name,
		CreatorID: creator.userID,
		Status:    StatusWaiting,
		CreatedAt: time.Now().UTC(),
	}
	if err := insertGame(game); err != nil {
		t.Fatalf("insert game %q: %v", name, err)
	}
	if _, err := addParticipant(game.ID, creator.userID); err != nil {
		t.Fatalf("add creator to game %q: %v", name, err)
	}
	return game
}

func joinTestGame(t *testing.T, game Game, players ...testPlayer) {
	t.Helper()

	for _, p := range players {
		if _, err := addParticipant(game.ID, p.userID); err != nil {
			t.Fatalf("add participant %s: %v", p.userID, err)
		}
	}
}

func setTestProfile(t *testing.T, p testPlayer, gameID, displayName string) {
	t.Helper()

	err := upsertProfile(Profile{
		UserID:      p.userID,
		GameID:      gameID,
		DisplayName: displayName,
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("upsert profile for %s: %v", p.userID, err)
	}
}

// startTestGame moves a waiting game to active and returns the resulting
// assignment map keyed by participant.
func startTestGame(t *testing.T, game Game) map[string]string {
	t.Helper()

	started, err := startGameNow(game.ID)
	if err != nil {
		t.Fatalf("start game: %v", err)
	}
	if !started {
		t.Fatalf("game %s did not start", game.ID)
	}

	participants, err := getParticipants(game.ID)
	if err != nil {
		t.Fatalf("get participants: %v", err)
	}
	assignments := make(map[string]string, len(participants))
	for _, p := range participants {
		if p.AssignedIdentityID == nil {
			t.Fatalf("participant %s has no assigned identity", p.UserID)
		}
		assignments[p.UserID] = *p.AssignedIdentityID
	}
	return assignments
}

func newTestServer(t *testing.T, cfg *Config) *httptest.Server {
	t.Helper()

	mux := httprouter.New()
	registerGameHandlers(cfg, mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// apiCall sends an authenticated JSON request and decodes the response body
// into out when out is non-nil. It returns the status code.
func apiCall(t *testing.T, srv *httptest.Server, method, path, token string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}

	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response from %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}
