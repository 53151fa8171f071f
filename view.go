package main

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// The enriched session view: the game document plus participant display
// names, the caller's own participant record, and the caller's resolved
// assigned-identity profile. This is the single shape every live subscriber
// receives.

type ParticipantView struct {
	Participant
	DisplayName string `json:"display_name"`
}

type GameView struct {
	Game
	Participants      []ParticipantView `json:"participants"`
	MyParticipant     ParticipantView   `json:"myParticipant"`
	MyAssignedProfile *Profile          `json:"myAssignedProfile"`
}

func buildGameView(game Game, userID string) (*GameView, error) {
	participants, err := getParticipants(game.ID)
	if err != nil {
		return nil, err
	}
	profiles, err := profilesByGame(game.ID)
	if err != nil {
		return nil, err
	}

	displayName := func(id string) string {
		if p, ok := profiles[id]; ok && p.DisplayName != "" {
			return p.DisplayName
		}
		return "Anonymous"
	}

	views := make([]ParticipantView, 0, len(participants))
	for _, p := range participants {
		views = append(views, ParticipantView{Participant: p, DisplayName: displayName(p.UserID)})
	}

	// A viewer who is not (yet) a participant still gets a coherent view.
	mine := ParticipantView{
		Participant: Participant{GameID: game.ID, UserID: userID},
		DisplayName: displayName(userID),
	}
	for _, v := range views {
		if v.UserID == userID {
			mine = v
			break
		}
	}

	var assigned *Profile
	if mine.AssignedIdentityID != nil {
		identityID := *mine.AssignedIdentityID
		if p, ok := profiles[identityID]; ok {
			assigned = &p
		} else {
			// Fallback: synthesize from the participant list so clients
			// always have a name to show for the assigned identity.
			for _, v := range views {
				if v.UserID == identityID {
					assigned = &Profile{UserID: identityID, GameID: game.ID, DisplayName: v.DisplayName}
					break
				}
			}
		}
	}

	return &GameView{
		Game:              game,
		Participants:      views,
		MyParticipant:     mine,
		MyAssignedProfile: assigned,
	}, nil
}

func handleCurrentGame() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID, err := userFromRequest(r)
		if err != nil {
			writeError(w, "handleCurrentGame", err)
			return
		}

		game, err := currentGameForUser(userID)
		if isNoRows(err) {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		if err != nil {
			writeError(w, "handleCurrentGame: currentGameForUser", err)
			return
		}

		view, err := buildGameView(game, userID)
		if err != nil {
			writeError(w, "handleCurrentGame: buildGameView", err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

type AvailableGame struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	CreatorID      string   `json:"creator_id"`
	CreatorName    string   `json:"creator_name"`
	CreatorProfile *Profile `json:"creator_profile"`
	CurrentPlayers int      `json:"current_players"`
	MaxPlayers     int      `json:"max_players"`
}

const maxPlayersShown = 4

// listAvailableGames returns joinable (waiting) games whose creator has a
// profile; games without a creator profile are hidden from the lobby list.
func listAvailableGames() ([]AvailableGame, error) {
	games, err := availableGames()
	if err != nil {
		return nil, err
	}

	enriched := make([]AvailableGame, 0, len(games))
	for _, game := range games {
		creatorProfile, err := getProfile(game.CreatorID, game.ID)
		if isNoRows(err) {
			continue
		}
		if err != nil {
			return nil, err
		}

		count, err := countParticipants(game.ID)
		if err != nil {
			return nil, err
		}

		enriched = append(enriched, AvailableGame{
			ID:             game.ID,
			Name:           game.Name,
			CreatorID:      game.CreatorID,
			CreatorName:    creatorProfile.DisplayName,
			CreatorProfile: &creatorProfile,
			CurrentPlayers: count,
			MaxPlayers:     maxPlayersShown,
		})
	}
	return enriched, nil
}

func handleAvailableGames() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		games, err := listAvailableGames()
		if err != nil {
			writeError(w, "handleAvailableGames: listAvailableGames", err)
			return
		}
		writeJSON(w, http.StatusOK, games)
	}
}
