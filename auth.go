package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

// Credential issuance is deliberately thin: a player row plus an opaque
// bearer token in auth_session. The engine itself only ever consumes the
// resolved user id.

type PlayerAccount struct {
	ID         string `db:"id" json:"userId"`
	Name       string `db:"name" json:"name"`
	SecretCode string `db:"secret_code" json:"-"`
}

func generateSecretCode() (string, error) {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func createAuthSession(userID string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	_, err = db.Exec("INSERT INTO auth_session (token, user_id) VALUES (?, ?)", token, userID)
	return token, err
}

// userFromRequest resolves the caller from a bearer token. Streams pass the
// token as a query parameter since EventSource cannot set headers.
func userFromRequest(r *http.Request) (string, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", unauthorized("Missing bearer token")
	}

	var userID string
	err := db.Get(&userID, "SELECT user_id FROM auth_session WHERE token = ?", token)
	if isNoRows(err) {
		return "", unauthorized("Invalid bearer token")
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

type authResponse struct {
	UserID     string `json:"userId"`
	Name       string `json:"name"`
	SecretCode string `json:"secretCode,omitempty"`
	Token      string `json:"token"`
}

func handleSignup() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			writeError(w, "handleSignup", invalidInput("Name required"))
			return
		}

		var existing PlayerAccount
		err := db.Get(&existing, "SELECT id, name, secret_code FROM player WHERE name = ?", req.Name)
		if err == nil {
			writeError(w, "handleSignup", invalidState("Name already taken. Use login with secret code if this is you."))
			return
		}
		if !isNoRows(err) {
			writeError(w, "handleSignup: db.Get player", err)
			return
		}

		secretCode, err := generateSecretCode()
		if err != nil {
			writeError(w, "handleSignup: generateSecretCode", err)
			return
		}

		account := PlayerAccount{ID: uuid.NewString(), Name: req.Name, SecretCode: secretCode}
		_, err = db.Exec("INSERT INTO player (id, name, secret_code) VALUES (?, ?, ?)",
			account.ID, account.Name, account.SecretCode)
		if err != nil {
			writeError(w, "handleSignup: db.Exec insert player", err)
			return
		}

		token, err := createAuthSession(account.ID)
		if err != nil {
			writeError(w, "handleSignup: createAuthSession", err)
			return
		}

		writeJSON(w, http.StatusOK, authResponse{
			UserID:     account.ID,
			Name:       account.Name,
			SecretCode: secretCode,
			Token:      token,
		})
	}
}

func handleLogin() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req struct {
			Name       string `json:"name"`
			SecretCode string `json:"secretCode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.SecretCode == "" {
			writeError(w, "handleLogin", invalidInput("Name and secret code are required"))
			return
		}

		var account PlayerAccount
		err := db.Get(&account, "SELECT id, name, secret_code FROM player WHERE name = ? AND secret_code = ?",
			req.Name, req.SecretCode)
		if isNoRows(err) {
			writeError(w, "handleLogin", unauthorized("Invalid name or secret code"))
			return
		}
		if err != nil {
			writeError(w, "handleLogin: db.Get player", err)
			return
		}

		token, err := createAuthSession(account.ID)
		if err != nil {
			writeError(w, "handleLogin: createAuthSession", err)
			return
		}

		writeJSON(w, http.StatusOK, authResponse{UserID: account.ID, Name: account.Name, Token: token})
	}
}

// handleAnonymousSignin creates a throwaway guest account. The generated
// name stays unique because it embeds the account id.
func handleAnonymousSignin() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		id := uuid.NewString()
		name := "guest-" + id[:8]

		secretCode, err := generateSecretCode()
		if err != nil {
			writeError(w, "handleAnonymousSignin: generateSecretCode", err)
			return
		}

		_, err = db.Exec("INSERT INTO player (id, name, secret_code) VALUES (?, ?, ?)", id, name, secretCode)
		if err != nil {
			writeError(w, "handleAnonymousSignin: db.Exec insert player", err)
			return
		}

		token, err := createAuthSession(id)
		if err != nil {
			writeError(w, "handleAnonymousSignin: createAuthSession", err)
			return
		}

		writeJSON(w, http.StatusOK, authResponse{UserID: id, Name: name, SecretCode: secretCode, Token: token})
	}
}

func handleLogout() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token != "" && token != r.Header.Get("Authorization") {
			db.Exec("DELETE FROM auth_session WHERE token = ?", token)
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}
