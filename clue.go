package main

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

// The clue engine leaks one letter of the real display name behind an
// identity. The indirection is the point of the game: the letter describes
// whoever is currently portraying the identity, not the identity itself.

// clueLetters extracts the candidate letters from a display name: uppercase,
// A-Z only. Accented and non-latin characters are dropped.
func clueLetters(displayName string) []byte {
	var letters []byte
	for _, r := range displayName {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		if r >= 'A' && r <= 'Z' {
			letters = append(letters, byte(r))
		}
	}
	return letters
}

func randomLetter(letters []byte) (string, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
	if err != nil {
		return "", err
	}
	return string(letters[idx.Int64()]), nil
}

// findIdentityHolder returns the participant currently portraying the given
// identity, i.e. the one whose assignedIdentityId matches.
func findIdentityHolder(participants []Participant, identityID string) *Participant {
	for i := range participants {
		p := &participants[i]
		if p.AssignedIdentityID != nil && *p.AssignedIdentityID == identityID {
			return p
		}
	}
	return nil
}

func handleAwardClue(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID, err := userFromRequest(r)
		if err != nil {
			writeError(w, "handleAwardClue", err)
			return
		}

		var req struct {
			GameID       string `json:"gameId"`
			TargetUserID string `json:"targetUserId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GameID == "" || req.TargetUserID == "" {
			writeError(w, "handleAwardClue", invalidInput("Game ID and target user ID required"))
			return
		}

		if _, err := getGame(req.GameID); isNoRows(err) {
			writeError(w, "handleAwardClue", notFound("Game not found"))
			return
		} else if err != nil {
			writeError(w, "handleAwardClue: getGame", err)
			return
		}

		participants, err := getParticipants(req.GameID)
		if err != nil {
			writeError(w, "handleAwardClue: getParticipants", err)
			return
		}

		holder := findIdentityHolder(participants, req.TargetUserID)
		if holder == nil {
			writeError(w, "handleAwardClue", notFound("Player playing target identity not found"))
			return
		}

		// The clue comes from the holder's own real profile, never from the
		// profile of the identity they portray.
		profile, err := getProfile(holder.UserID, req.GameID)
		if isNoRows(err) || (err == nil && profile.DisplayName == "") {
			writeError(w, "handleAwardClue", notFound("Real player profile not found"))
			return
		}
		if err != nil {
			writeError(w, "handleAwardClue: getProfile", err)
			return
		}

		letters := clueLetters(profile.DisplayName)
		if len(letters) == 0 {
			writeError(w, "handleAwardClue", invalidState("No valid letters in display name"))
			return
		}

		letter, err := randomLetter(letters)
		if err != nil {
			writeError(w, "handleAwardClue: randomLetter", err)
			return
		}

		clue := Clue{
			ID:              uuid.NewString(),
			GameID:          req.GameID,
			RecipientUserID: userID,
			TargetUserID:    req.TargetUserID,
			Letter:          letter,
			CreatedAt:       time.Now().UTC(),
		}

		// Appending the clue and clearing the winner happen atomically; the
		// winner_id compare-and-set enforces one clue per declared win.
		claimed, err := appendClueForWinner(clue)
		if err != nil {
			writeError(w, "handleAwardClue: appendClueForWinner", err)
			return
		}
		if !claimed {
			writeError(w, "handleAwardClue", forbidden("Only the current winner can claim a clue"))
			return
		}

		logf(cfg, "CLUES: %s received %q about identity %s in %s", userID, letter, req.TargetUserID, req.GameID)
		notifyGameChanged(req.GameID)
		writeJSON(w, http.StatusOK, map[string]any{"id": clue.ID, "letter": letter, "success": true})
	}
}
