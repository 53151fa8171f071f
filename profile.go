package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

// Profiles are session-scoped: the same user carries a distinct profile per
// game. The engine reads them as the source of truth for the real name
// behind an identity; this handler pair is the thin write/read surface.

func handleUpsertProfile(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID, err := userFromRequest(r)
		if err != nil {
			writeError(w, "handleUpsertProfile", err)
			return
		}

		var req struct {
			GameID      string `json:"gameId"`
			DisplayName string `json:"displayName"`
			Bio         string `json:"bio"`
			Interests   string `json:"interests"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GameID == "" || req.DisplayName == "" {
			writeError(w, "handleUpsertProfile", invalidInput("Display name and game ID required"))
			return
		}

		profile := Profile{
			UserID:      userID,
			GameID:      req.GameID,
			DisplayName: req.DisplayName,
			Bio:         req.Bio,
			Interests:   req.Interests,
			UpdatedAt:   time.Now().UTC(),
		}
		if err := upsertProfile(profile); err != nil {
			writeError(w, "handleUpsertProfile: upsertProfile", err)
			return
		}

		logf(cfg, "PROFILES: %s updated profile for %s", userID, req.GameID)
		notifyGameChanged(req.GameID)
		writeJSON(w, http.StatusOK, profile)
	}
}

func handleGetProfile() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if _, err := userFromRequest(r); err != nil {
			writeError(w, "handleGetProfile", err)
			return
		}

		targetID := ps.ByName("userid")
		gameID := r.URL.Query().Get("gameId")
		if targetID == "" || gameID == "" {
			writeError(w, "handleGetProfile", invalidInput("User ID and game ID required"))
			return
		}

		profile, err := getProfile(targetID, gameID)
		if isNoRows(err) {
			writeError(w, "handleGetProfile", notFound("Profile not found"))
			return
		}
		if err != nil {
			writeError(w, "handleGetProfile: getProfile", err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}
