package main

import (
	"net/http"
	"strings"
	"testing"
)

// ============================================================================
// Auth Tests
// ============================================================================

func TestSignupLoginRoundTrip(t *testing.T) {
	setupTestDB(t)
	cfg := testConfig()
	srv := newTestServer(t, cfg)

	var signup authResponse
	status := apiCall(t, srv, http.MethodPost, "/api/auth/signup", "",
		map[string]string{"name": "Alice"}, &signup)
	if status != http.StatusOK {
		t.Fatalf("signup returned %d", status)
	}
	if signup.Token == "" || signup.SecretCode == "" || signup.UserID == "" {
		t.Fatalf("incomplete signup response: %+v", signup)
	}

	// The name is now taken.
	if status := apiCall(t, srv, http.MethodPost, "/api/auth/signup", "",
		map[string]string{"name": "Alice"}, nil); status != http.StatusConflict {
		t.Errorf("duplicate signup returned %d, want %d", status, http.StatusConflict)
	}

	var login authResponse
	status = apiCall(t, srv, http.MethodPost, "/api/auth/login", "",
		map[string]string{"name": "Alice", "secretCode": signup.SecretCode}, &login)
	if status != http.StatusOK {
		t.Fatalf("login returned %d", status)
	}
	if login.UserID != signup.UserID {
		t.Errorf("login user = %s, want %s", login.UserID, signup.UserID)
	}
	if login.Token == signup.Token {
		t.Error("login should mint a fresh token")
	}

	if status := apiCall(t, srv, http.MethodPost, "/api/auth/login", "",
		map[string]string{"name": "Alice", "secretCode": "wrong"}, nil); status != http.StatusUnauthorized {
		t.Errorf("bad login returned %d, want %d", status, http.StatusUnauthorized)
	}
}

func TestAnonymousSignin(t *testing.T) {
	setupTestDB(t)
	cfg := testConfig()
	srv := newTestServer(t, cfg)

	var guest authResponse
	status := apiCall(t, srv, http.MethodPost, "/api/auth/anonymous", "", nil, &guest)
	if status != http.StatusOK {
		t.Fatalf("anonymous signin returned %d", status)
	}
	if !strings.HasPrefix(guest.Name, "guest-") {
		t.Errorf("guest name = %q, want guest- prefix", guest.Name)
	}

	// The minted token authenticates normal calls.
	if status := apiCall(t, srv, http.MethodPost, "/api/games/create", guest.Token,
		map[string]string{"name": "guest game"}, nil); status != http.StatusOK {
		t.Errorf("create with guest token returned %d", status)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	setupTestDB(t)
	cfg := testConfig()
	srv := newTestServer(t, cfg)

	alice := newTestPlayer(t, "Alice")

	if status := apiCall(t, srv, http.MethodPost, "/api/auth/logout", alice.token, nil, nil); status != http.StatusOK {
		t.Fatalf("logout returned %d", status)
	}

	status := apiCall(t, srv, http.MethodPost, "/api/games/create", alice.token,
		map[string]string{"name": "after logout"}, nil)
	if status != http.StatusUnauthorized {
		t.Errorf("call after logout returned %d, want %d", status, http.StatusUnauthorized)
	}
}

func TestMissingTokenRejected(t *testing.T) {
	setupTestDB(t)
	cfg := testConfig()
	srv := newTestServer(t, cfg)

	status := apiCall(t, srv, http.MethodPost, "/api/games/create", "",
		map[string]string{"name": "no auth"}, nil)
	if status != http.StatusUnauthorized {
		t.Errorf("unauthenticated create returned %d, want %d", status, http.StatusUnauthorized)
	}
}

func TestProfileUpsertAndFetch(t *testing.T) {
	setupTestDB(t)
	cfg := testConfig()
	srv := newTestServer(t, cfg)

	alice := newTestPlayer(t, "Alice")
	bob := newTestPlayer(t, "Bob")
	game := newTestGame(t, alice, "profile game")

	body := map[string]string{
		"gameId":      game.ID,
		"displayName": "Allie",
		"bio":         "night owl",
		"interests":   "karaoke",
	}
	if status := apiCall(t, srv, http.MethodPost, "/api/profiles", alice.token, body, nil); status != http.StatusOK {
		t.Fatalf("profile upsert returned %d", status)
	}

	// Second write replaces, it does not duplicate.
	body["displayName"] = "Alice P"
	if status := apiCall(t, srv, http.MethodPost, "/api/profiles", alice.token, body, nil); status != http.StatusOK {
		t.Fatalf("profile re-upsert returned %d", status)
	}

	var fetched Profile
	path := "/api/profiles/user/" + alice.userID + "?gameId=" + game.ID
	if status := apiCall(t, srv, http.MethodGet, path, bob.token, nil, &fetched); status != http.StatusOK {
		t.Fatalf("profile fetch returned %d", status)
	}
	if fetched.DisplayName != "Alice P" {
		t.Errorf("display name = %q, want %q", fetched.DisplayName, "Alice P")
	}
	if fetched.Bio != "night owl" {
		t.Errorf("bio = %q, want %q", fetched.Bio, "night owl")
	}

	if status := apiCall(t, srv, http.MethodGet, "/api/profiles/user/"+bob.userID+"?gameId="+game.ID, alice.token, nil, nil); status != http.StatusNotFound {
		t.Errorf("missing profile fetch returned %d, want %d", status, http.StatusNotFound)
	}

	if status := apiCall(t, srv, http.MethodPost, "/api/profiles", alice.token,
		map[string]string{"gameId": game.ID}, nil); status != http.StatusBadRequest {
		t.Errorf("upsert without display name returned %d, want %d", status, http.StatusBadRequest)
	}
}
