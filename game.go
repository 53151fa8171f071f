package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

// Lifecycle handlers. Every transition is a single conditional update at the
// storage boundary (see store.go); a failed precondition surfaces to the
// caller immediately and leaves the document untouched.

func handleCreateGame(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID, err := userFromRequest(r)
		if err != nil {
			writeError(w, "handleCreateGame", err)
			return
		}

		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			writeError(w, "handleCreateGame", invalidInput("Game name required"))
			return
		}

		game := Game{
			ID:        uuid.NewString(),
			Name:      req.Name,
			CreatorID: userID,
			Status:    StatusWaiting,
			CreatedAt: time.Now().UTC(),
		}
		if err := insertGame(game); err != nil {
			writeError(w, "handleCreateGame: insertGame", err)
			return
		}

		logf(cfg, "GAMES: %q created by %s", game.Name, userID)
		writeJSON(w, http.StatusOK, game)
	}
}

func handleJoinGame(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID, err := userFromRequest(r)
		if err != nil {
			writeError(w, "handleJoinGame", err)
			return
		}

		var req struct {
			GameID string `json:"gameId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GameID == "" {
			writeError(w, "handleJoinGame", invalidInput("Game ID required"))
			return
		}

		if _, err := getGame(req.GameID); isNoRows(err) {
			writeError(w, "handleJoinGame", notFound("Game not found"))
			return
		} else if err != nil {
			writeError(w, "handleJoinGame: getGame", err)
			return
		}

		joined, err := addParticipant(req.GameID, userID)
		if err != nil {
			writeError(w, "handleJoinGame: addParticipant", err)
			return
		}
		if !joined {
			// Either the caller already sits in the game (idempotent
			// success) or the game left waiting and can no longer take
			// new participants.
			member, err := isParticipant(req.GameID, userID)
			if err != nil {
				writeError(w, "handleJoinGame: isParticipant", err)
				return
			}
			if member {
				writeJSON(w, http.StatusOK, map[string]bool{"success": true, "alreadyInGame": true})
				return
			}
			writeError(w, "handleJoinGame", invalidState("Game has already started"))
			return
		}

		logf(cfg, "GAMES: %s joined %s", userID, req.GameID)
		notifyGameChanged(req.GameID)

		// Auto-start is judged on the post-append count; the compare-and-set
		// inside startGameNow keeps it from ever firing twice.
		count, err := countParticipants(req.GameID)
		if err != nil {
			writeError(w, "handleJoinGame: countParticipants", err)
			return
		}
		if count >= cfg.autoStart {
			started, err := startGameNow(req.GameID)
			if err != nil {
				logError("handleJoinGame: startGameNow", err)
			} else if started {
				logf(cfg, "GAMES: %s auto-started with %d participants", req.GameID, count)
				notifyGameChanged(req.GameID)
			}
		}

		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// startGameNow assigns identities over the current participants and flips
// the game to active. Returns false when the game already left waiting.
func startGameNow(gameID string) (bool, error) {
	participants, err := getParticipants(gameID)
	if err != nil {
		return false, err
	}
	if len(participants) < 2 {
		return false, invalidState("Not enough participants")
	}

	userIDs := make([]string, 0, len(participants))
	for _, p := range participants {
		userIDs = append(userIDs, p.UserID)
	}

	return markGameStarted(gameID, assignIdentities(userIDs))
}

func handleStartGame(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID, err := userFromRequest(r)
		if err != nil {
			writeError(w, "handleStartGame", err)
			return
		}

		var req struct {
			GameID string `json:"gameId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GameID == "" {
			writeError(w, "handleStartGame", invalidInput("Game ID required"))
			return
		}

		game, err := getGame(req.GameID)
		if isNoRows(err) {
			writeError(w, "handleStartGame", notFound("Game not found"))
			return
		}
		if err != nil {
			writeError(w, "handleStartGame: getGame", err)
			return
		}
		if game.CreatorID != userID {
			writeError(w, "handleStartGame", forbidden("Only creator can start the game"))
			return
		}

		started, err := startGameNow(req.GameID)
		if err != nil {
			writeError(w, "handleStartGame: startGameNow", err)
			return
		}
		if !started {
			writeError(w, "handleStartGame", invalidState("Game already started"))
			return
		}

		logf(cfg, "GAMES: %s started by creator", req.GameID)
		notifyGameChanged(req.GameID)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func handleStartVoting(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID, err := userFromRequest(r)
		if err != nil {
			writeError(w, "handleStartVoting", err)
			return
		}

		var req struct {
			GameID string `json:"gameId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GameID == "" {
			writeError(w, "handleStartVoting", invalidInput("Game ID required"))
			return
		}

		game, err := getGame(req.GameID)
		if isNoRows(err) {
			writeError(w, "handleStartVoting", notFound("Game not found"))
			return
		}
		if err != nil {
			writeError(w, "handleStartVoting: getGame", err)
			return
		}
		if game.CreatorID != userID {
			writeError(w, "handleStartVoting", forbidden("Only creator can start voting"))
			return
		}

		ok, err := markGameVoting(req.GameID)
		if err != nil {
			writeError(w, "handleStartVoting: markGameVoting", err)
			return
		}
		if !ok {
			writeError(w, "handleStartVoting", invalidState("Voting can only start from an active game"))
			return
		}

		logf(cfg, "GAMES: %s entered voting", req.GameID)
		notifyGameChanged(req.GameID)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func handleDeclareWinner(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID, err := userFromRequest(r)
		if err != nil {
			writeError(w, "handleDeclareWinner", err)
			return
		}

		var req struct {
			GameID       string `json:"gameId"`
			WinnerUserID string `json:"winnerUserId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GameID == "" || req.WinnerUserID == "" {
			writeError(w, "handleDeclareWinner", invalidInput("Game ID and winner user ID required"))
			return
		}

		game, err := getGame(req.GameID)
		if isNoRows(err) {
			writeError(w, "handleDeclareWinner", notFound("Game not found"))
			return
		}
		if err != nil {
			writeError(w, "handleDeclareWinner: getGame", err)
			return
		}
		if game.CreatorID != userID {
			writeError(w, "handleDeclareWinner", forbidden("Only creator can declare winner"))
			return
		}

		ok, err := setWinner(req.GameID, req.WinnerUserID)
		if err != nil {
			writeError(w, "handleDeclareWinner: setWinner", err)
			return
		}
		if !ok {
			writeError(w, "handleDeclareWinner", notFound("Winner is not a participant"))
			return
		}

		logf(cfg, "GAMES: %s declared %s winner", req.GameID, req.WinnerUserID)
		notifyGameChanged(req.GameID)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func handleRemoveParticipant(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID, err := userFromRequest(r)
		if err != nil {
			writeError(w, "handleRemoveParticipant", err)
			return
		}

		var req struct {
			GameID            string `json:"gameId"`
			ParticipantUserID string `json:"participantUserId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GameID == "" || req.ParticipantUserID == "" {
			writeError(w, "handleRemoveParticipant", invalidInput("Game ID and participant user ID required"))
			return
		}

		game, err := getGame(req.GameID)
		if isNoRows(err) {
			writeError(w, "handleRemoveParticipant", notFound("Game not found"))
			return
		}
		if err != nil {
			writeError(w, "handleRemoveParticipant: getGame", err)
			return
		}
		if game.CreatorID != userID {
			writeError(w, "handleRemoveParticipant", forbidden("Only creator can remove participants"))
			return
		}

		// Removal after start does not reshuffle remaining identities; the
		// removed participant's assignment simply dangles.
		if err := removeParticipantRow(req.GameID, req.ParticipantUserID); err != nil {
			writeError(w, "handleRemoveParticipant: removeParticipantRow", err)
			return
		}

		logf(cfg, "GAMES: %s removed %s", req.GameID, req.ParticipantUserID)
		notifyGameChanged(req.GameID)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func handleDeleteGame(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID, err := userFromRequest(r)
		if err != nil {
			writeError(w, "handleDeleteGame", err)
			return
		}

		var req struct {
			GameID string `json:"gameId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GameID == "" {
			writeError(w, "handleDeleteGame", invalidInput("Game ID required"))
			return
		}

		game, err := getGame(req.GameID)
		if isNoRows(err) {
			writeError(w, "handleDeleteGame", notFound("Game not found"))
			return
		}
		if err != nil {
			writeError(w, "handleDeleteGame: getGame", err)
			return
		}
		if game.CreatorID != userID {
			writeError(w, "handleDeleteGame", forbidden("Only creator can delete game"))
			return
		}

		if err := deleteGameCascade(req.GameID); err != nil {
			writeError(w, "handleDeleteGame: deleteGameCascade", err)
			return
		}

		logf(cfg, "GAMES: %s deleted", req.GameID)
		notifyGameChanged(req.GameID)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func handleMiniGameState(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if _, err := userFromRequest(r); err != nil {
			writeError(w, "handleMiniGameState", err)
			return
		}

		if r.Method == http.MethodGet {
			gameID := r.URL.Query().Get("gameId")
			if gameID == "" {
				writeError(w, "handleMiniGameState", invalidInput("Game ID required"))
				return
			}
			game, err := getGame(gameID)
			if isNoRows(err) {
				writeError(w, "handleMiniGameState", notFound("Game not found"))
				return
			}
			if err != nil {
				writeError(w, "handleMiniGameState: getGame", err)
				return
			}
			// The stored blob is already JSON; pass it through untouched.
			writeJSON(w, http.StatusOK, game.MiniGameState)
			return
		}

		// The state blob is owned by the external mini-game UI and passed
		// through verbatim.
		var req struct {
			GameID        string          `json:"gameId"`
			MiniGameState json.RawMessage `json:"miniGameState"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GameID == "" {
			writeError(w, "handleMiniGameState", invalidInput("Game ID required"))
			return
		}

		var state rawJSON
		if len(req.MiniGameState) > 0 && string(req.MiniGameState) != "null" {
			state = rawJSON(req.MiniGameState)
		}

		ok, err := setMiniGameState(req.GameID, state)
		if err != nil {
			writeError(w, "handleMiniGameState: setMiniGameState", err)
			return
		}
		if !ok {
			writeError(w, "handleMiniGameState", notFound("Game not found"))
			return
		}

		notifyGameChanged(req.GameID)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func handleMyClues() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID, err := userFromRequest(r)
		if err != nil {
			writeError(w, "handleMyClues", err)
			return
		}

		gameID := r.URL.Query().Get("gameId")
		if gameID == "" {
			writeJSON(w, http.StatusOK, []Clue{})
			return
		}

		clues, err := cluesForRecipient(gameID, userID)
		if err != nil {
			writeError(w, "handleMyClues: cluesForRecipient", err)
			return
		}
		if clues == nil {
			clues = []Clue{}
		}
		writeJSON(w, http.StatusOK, clues)
	}
}

// notifyGameChanged pokes every live subscriber of the game.
func notifyGameChanged(gameID string) {
	watcher.notify(gameID)
}
