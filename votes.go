package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

// Vote tabulation. Each voter must guess every other participant's identity
// exactly once; completion is judged per voter, never on the aggregate.

func requiredPerVoter(participantCount int) int {
	if participantCount < 1 {
		return 0
	}
	return participantCount - 1
}

func totalRequiredVotes(participantCount int) int {
	return requiredPerVoter(participantCount) * participantCount
}

// quorumReached reports whether every participant has cast at least n-1
// votes.
func quorumReached(participants []Participant, countsByVoter map[string]int) bool {
	if len(participants) == 0 {
		return false
	}
	required := requiredPerVoter(len(participants))
	for _, p := range participants {
		if countsByVoter[p.UserID] < required {
			return false
		}
	}
	return true
}

func handleSubmitVote(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID, err := userFromRequest(r)
		if err != nil {
			writeError(w, "handleSubmitVote", err)
			return
		}

		var req struct {
			GameID            string `json:"gameId"`
			TargetUserID      string `json:"targetUserId"`
			GuessedIdentityID string `json:"guessedIdentityId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
			req.GameID == "" || req.TargetUserID == "" || req.GuessedIdentityID == "" {
			writeError(w, "handleSubmitVote", invalidInput("Game ID, target user ID, and guessed identity ID required"))
			return
		}

		if _, err := getGame(req.GameID); isNoRows(err) {
			writeError(w, "handleSubmitVote", notFound("Game not found"))
			return
		} else if err != nil {
			writeError(w, "handleSubmitVote: getGame", err)
			return
		}

		voteID, err := upsertVote(Vote{
			ID:                uuid.NewString(),
			GameID:            req.GameID,
			VoterID:           userID,
			TargetUserID:      req.TargetUserID,
			GuessedIdentityID: req.GuessedIdentityID,
			CreatedAt:         time.Now().UTC(),
		})
		if err != nil {
			writeError(w, "handleSubmitVote: upsertVote", err)
			return
		}

		logf(cfg, "VOTES: %s guessed %s for %s in %s", userID, req.GuessedIdentityID, req.TargetUserID, req.GameID)
		notifyGameChanged(req.GameID)

		if err := checkVoteCompletion(cfg, req.GameID); err != nil {
			logError("handleSubmitVote: checkVoteCompletion", err)
		}

		writeJSON(w, http.StatusOK, map[string]any{"id": voteID, "success": true})
	}
}

// checkVoteCompletion finishes the game once every participant has met their
// quota. The compare-and-set in markGameFinished makes completion
// exactly-once under concurrent submissions.
func checkVoteCompletion(cfg *Config, gameID string) error {
	participants, err := getParticipants(gameID)
	if err != nil {
		return err
	}
	if len(participants) == 0 {
		return nil
	}

	counts, err := voteCountsByVoter(gameID)
	if err != nil {
		return err
	}
	if !quorumReached(participants, counts) {
		return nil
	}

	finished, err := markGameFinished(gameID)
	if err != nil {
		return err
	}
	if finished {
		logf(cfg, "GAMES: %s finished, all votes in", gameID)
		notifyGameChanged(gameID)
	}
	return nil
}

// VoteProgress is the light tabulation used for live progress bars; it
// carries counts only, no correctness details.
type VoteProgress struct {
	PerVoter           map[string]int `json:"perVoter"`
	TotalVotesCast     int            `json:"totalVotesCast"`
	RequiredPerVoter   int            `json:"requiredPerVoter"`
	TotalRequiredVotes int            `json:"totalRequiredVotes"`
}

func computeVoteProgress(gameID string) (*VoteProgress, error) {
	participants, err := getParticipants(gameID)
	if err != nil {
		return nil, err
	}
	counts, err := voteCountsByVoter(gameID)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, c := range counts {
		total += c
	}

	return &VoteProgress{
		PerVoter:           counts,
		TotalVotesCast:     total,
		RequiredPerVoter:   requiredPerVoter(len(participants)),
		TotalRequiredVotes: totalRequiredVotes(len(participants)),
	}, nil
}

type VoteDetail struct {
	VoterID           string   `json:"voterId"`
	GuessedIdentityID string   `json:"guessedIdentityId"`
	GuessedProfile    *Profile `json:"guessedProfile"`
	IsCorrect         bool     `json:"isCorrect"`
}

type ParticipantResult struct {
	UserID              string       `json:"userId"`
	UserName            string       `json:"userName"`
	UserProfile         *Profile     `json:"userProfile"`
	AssignedProfile     *Profile     `json:"assignedProfile"`
	CorrectGuesses      int          `json:"correctGuesses"`
	TotalVotes          int          `json:"totalVotes"`
	WasGuessedCorrectly bool         `json:"wasGuessedCorrectly"`
	Votes               []VoteDetail `json:"votes"`
}

type VoteResults struct {
	Results []ParticipantResult `json:"results"`
}

// computeVoteResults builds the results view: per participant, the incoming
// votes about them, how many guessed their assigned identity correctly, and
// the detailed breakdown. Ranked by correct guesses received, descending,
// with stable ties.
func computeVoteResults(gameID string) (*VoteResults, error) {
	participants, err := getParticipants(gameID)
	if err != nil {
		return nil, err
	}
	votes, err := votesByGame(gameID)
	if err != nil {
		return nil, err
	}
	profiles, err := profilesByGame(gameID)
	if err != nil {
		return nil, err
	}

	lookupProfile := func(userID string) *Profile {
		if p, ok := profiles[userID]; ok {
			return &p
		}
		return nil
	}
	displayName := func(userID string) string {
		if p, ok := profiles[userID]; ok && p.DisplayName != "" {
			return p.DisplayName
		}
		return "Anonymous"
	}

	results := make([]ParticipantResult, 0, len(participants))
	for _, participant := range participants {
		var incoming []VoteDetail
		correct := 0
		for _, vote := range votes {
			if vote.TargetUserID != participant.UserID {
				continue
			}
			isCorrect := participant.AssignedIdentityID != nil &&
				vote.GuessedIdentityID == *participant.AssignedIdentityID
			if isCorrect {
				correct++
			}
			incoming = append(incoming, VoteDetail{
				VoterID:           vote.VoterID,
				GuessedIdentityID: vote.GuessedIdentityID,
				GuessedProfile:    lookupProfile(vote.GuessedIdentityID),
				IsCorrect:         isCorrect,
			})
		}

		var assignedProfile *Profile
		if participant.AssignedIdentityID != nil {
			assignedProfile = lookupProfile(*participant.AssignedIdentityID)
		}

		results = append(results, ParticipantResult{
			UserID:              participant.UserID,
			UserName:            displayName(participant.UserID),
			UserProfile:         lookupProfile(participant.UserID),
			AssignedProfile:     assignedProfile,
			CorrectGuesses:      correct,
			TotalVotes:          len(incoming),
			WasGuessedCorrectly: correct > 0,
			Votes:               incoming,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CorrectGuesses > results[j].CorrectGuesses
	})

	return &VoteResults{Results: results}, nil
}

// handleVoteResults is the one-shot variant of the results stream.
func handleVoteResults() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if _, err := userFromRequest(r); err != nil {
			writeError(w, "handleVoteResults", err)
			return
		}

		gameID := r.URL.Query().Get("gameId")
		if gameID == "" {
			writeError(w, "handleVoteResults", invalidInput("Game ID required"))
			return
		}
		if _, err := getGame(gameID); isNoRows(err) {
			writeError(w, "handleVoteResults", notFound("Game not found"))
			return
		} else if err != nil {
			writeError(w, "handleVoteResults: getGame", err)
			return
		}

		results, err := computeVoteResults(gameID)
		if err != nil {
			writeError(w, "handleVoteResults: computeVoteResults", err)
			return
		}
		writeJSON(w, http.StatusOK, results)
	}
}

// handleVoteProgress is the one-shot variant of the progress stream.
func handleVoteProgress() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if _, err := userFromRequest(r); err != nil {
			writeError(w, "handleVoteProgress", err)
			return
		}

		gameID := r.URL.Query().Get("gameId")
		if gameID == "" {
			writeError(w, "handleVoteProgress", invalidInput("Game ID required"))
			return
		}
		if _, err := getGame(gameID); isNoRows(err) {
			writeError(w, "handleVoteProgress", notFound("Game not found"))
			return
		} else if err != nil {
			writeError(w, "handleVoteProgress: getGame", err)
			return
		}

		progress, err := computeVoteProgress(gameID)
		if err != nil {
			writeError(w, "handleVoteProgress: computeVoteProgress", err)
			return
		}
		writeJSON(w, http.StatusOK, progress)
	}
}
