package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

// Server-sent event streams. Every stream sends an initial snapshot
// immediately, then re-sends whenever the payload changes, driven by change
// signals where available and by a poll tick otherwise. Frames are data-only.

func sseHeaders(w http.ResponseWriter) (http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by response writer")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return flusher, nil
}

func sseWrite(w http.ResponseWriter, flusher http.Flusher, payload []byte) {
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

// streamSnapshots runs the shared SSE loop. snapshot errors are skipped
// silently so a transient read failure does not kill the stream.
func streamSnapshots(w http.ResponseWriter, r *http.Request, sig <-chan struct{}, interval time.Duration, snapshot func() ([]byte, error)) {
	flusher, err := sseHeaders(w)
	if err != nil {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last []byte
	send := func() {
		payload, err := snapshot()
		if err != nil {
			return
		}
		if bytes.Equal(payload, last) {
			return
		}
		sseWrite(w, flusher, payload)
		last = payload
	}

	send()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-sig:
		case <-ticker.C:
		}
		send()
	}
}

func handleGameSyncStream(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		userID, err := userFromRequest(r)
		if err != nil {
			writeError(w, "handleGameSyncStream", err)
			return
		}

		gameID := ps.ByName("gameid")
		if _, err := getGame(gameID); isNoRows(err) {
			writeError(w, "handleGameSyncStream", notFound("Game not found"))
			return
		} else if err != nil {
			writeError(w, "handleGameSyncStream: getGame", err)
			return
		}

		sig, cancel := watcher.subscribe(gameID)
		defer cancel()

		streamSnapshots(w, r, sig, cfg.pollInterval, func() ([]byte, error) {
			return snapshotGameView(gameID, userID)
		})
	}
}

func handleCurrentGameStream(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID, err := userFromRequest(r)
		if err != nil {
			writeError(w, "handleCurrentGameStream", err)
			return
		}

		// No single game to watch before one exists, so this stream is
		// poll-driven only.
		streamSnapshots(w, r, nil, cfg.pollInterval, func() ([]byte, error) {
			game, err := currentGameForUser(userID)
			if isNoRows(err) {
				return json.Marshal(nil)
			}
			if err != nil {
				return nil, err
			}
			view, err := buildGameView(game, userID)
			if err != nil {
				return nil, err
			}
			return json.Marshal(view)
		})
	}
}

func handleAvailableGamesStream(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if _, err := userFromRequest(r); err != nil {
			writeError(w, "handleAvailableGamesStream", err)
			return
		}

		streamSnapshots(w, r, nil, cfg.pollInterval, func() ([]byte, error) {
			games, err := listAvailableGames()
			if err != nil {
				return nil, err
			}
			return json.Marshal(games)
		})
	}
}

func handleVoteProgressStream(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if _, err := userFromRequest(r); err != nil {
			writeError(w, "handleVoteProgressStream", err)
			return
		}

		gameID := r.URL.Query().Get("gameId")
		if gameID == "" {
			writeError(w, "handleVoteProgressStream", invalidInput("Game ID required"))
			return
		}

		sig, cancel := watcher.subscribe(gameID)
		defer cancel()

		streamSnapshots(w, r, sig, cfg.pollInterval, func() ([]byte, error) {
			progress, err := computeVoteProgress(gameID)
			if err != nil {
				return nil, err
			}
			return json.Marshal(progress)
		})
	}
}

func handleVoteResultsStream(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if _, err := userFromRequest(r); err != nil {
			writeError(w, "handleVoteResultsStream", err)
			return
		}

		gameID := r.URL.Query().Get("gameId")
		if gameID == "" {
			writeError(w, "handleVoteResultsStream", invalidInput("Game ID required"))
			return
		}

		sig, cancel := watcher.subscribe(gameID)
		defer cancel()

		streamSnapshots(w, r, sig, cfg.pollInterval, func() ([]byte, error) {
			results, err := computeVoteResults(gameID)
			if err != nil {
				return nil, err
			}
			return json.Marshal(results)
		})
	}
}
