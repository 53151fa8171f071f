package main

import (
	"fmt"
	"math/rand"
	"testing"
	"testing/quick"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Vote Tabulation Tests
// ============================================================================

func castVote(t *testing.T, cfg *Config, game Game, voter testPlayer, targetUserID, guessedIdentityID string) {
	t.Helper()

	_, err := upsertVote(Vote{
		ID:                uuid.NewString(),
		GameID:            game.ID,
		VoterID:           voter.userID,
		TargetUserID:      targetUserID,
		GuessedIdentityID: guessedIdentityID,
		CreatedAt:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("cast vote: %v", err)
	}
	if err := checkVoteCompletion(cfg, game.ID); err != nil {
		t.Fatalf("check completion: %v", err)
	}
}

func TestQuorumIsPerVoter(t *testing.T) {
	participants := []Participant{
		{UserID: "a"}, {UserID: "b"}, {UserID: "c"},
	}

	// Aggregate count meets the total, but voter c has cast nothing.
	counts := map[string]int{"a": 2, "b": 2, "c": 0}
	if quorumReached(participants, counts) {
		t.Error("quorum should not be reached while any voter is short")
	}

	counts["c"] = 2
	if !quorumReached(participants, counts) {
		t.Error("quorum should be reached once every voter hits n-1")
	}
}

func TestVoteTotals(t *testing.T) {
	if got := requiredPerVoter(4); got != 3 {
		t.Errorf("requiredPerVoter(4) = %d, want 3", got)
	}
	if got := totalRequiredVotes(4); got != 12 {
		t.Errorf("totalRequiredVotes(4) = %d, want 12", got)
	}
	if got := requiredPerVoter(0); got != 0 {
		t.Errorf("requiredPerVoter(0) = %d, want 0", got)
	}
}

// The game must finish exactly when the final voter meets their quota, no
// matter what order the votes arrive in.
func TestVoteCompletionOrderIndependent(t *testing.T) {
	f := func(seed int64) bool {
		setupTestDB(t)
		cfg := testConfig()

		players := make([]testPlayer, 3)
		for i := range players {
			players[i] = newTestPlayer(t, fmt.Sprintf("Player%d-%d", i, seed))
		}
		game := newTestGame(t, players[0], "order test")
		joinTestGame(t, game, players[1], players[2])
		startTestGame(t, game)

		if _, err := markGameVoting(game.ID); err != nil {
			t.Fatalf("mark voting: %v", err)
		}

		// Build the full ballot and shuffle delivery order.
		type ballot struct {
			voter  testPlayer
			target string
		}
		var ballots []ballot
		for _, voter := range players {
			for _, target := range players {
				if target.userID != voter.userID {
					ballots = append(ballots, ballot{voter: voter, target: target.userID})
				}
			}
		}
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(ballots), func(i, j int) {
			ballots[i], ballots[j] = ballots[j], ballots[i]
		})

		for i, b := range ballots {
			castVote(t, cfg, game, b.voter, b.target, b.voter.userID)

			current, err := getGame(game.ID)
			if err != nil {
				t.Fatalf("get game: %v", err)
			}
			lastBallot := i == len(ballots)-1
			if lastBallot && current.Status != StatusFinished {
				t.Errorf("game not finished after final vote (seed %d)", seed)
				return false
			}
			if !lastBallot && current.Status == StatusFinished {
				t.Errorf("game finished after %d of %d votes (seed %d)", i+1, len(ballots), seed)
				return false
			}
		}
		return true
	}

	if err := quick.Check(f, &quick.Config{MaxCount: 10}); err != nil {
		t.Error(err)
	}
}

// Resubmitting a guess for the same target replaces the old vote instead of
// inflating the voter's count.
func TestVoteResubmissionCountsOnce(t *testing.T) {
	setupTestDB(t)
	cfg := testConfig()

	alice := newTestPlayer(t, "Alice")
	bob := newTestPlayer(t, "Bob")
	carol := newTestPlayer(t, "Carol")
	game := newTestGame(t, alice, "resubmit")
	joinTestGame(t, game, bob, carol)
	startTestGame(t, game)

	castVote(t, cfg, game, alice, bob.userID, carol.userID)
	castVote(t, cfg, game, alice, bob.userID, bob.userID)
	castVote(t, cfg, game, alice, bob.userID, alice.userID)

	counts, err := voteCountsByVoter(game.ID)
	if err != nil {
		t.Fatalf("vote counts: %v", err)
	}
	if counts[alice.userID] != 1 {
		t.Errorf("expected 1 counted vote for alice, got %d", counts[alice.userID])
	}

	votes, err := votesByGame(game.ID)
	if err != nil {
		t.Fatalf("votes by game: %v", err)
	}
	if len(votes) != 1 {
		t.Fatalf("expected 1 stored vote, got %d", len(votes))
	}
	if votes[0].GuessedIdentityID != alice.userID {
		t.Errorf("expected final guess to win, got %s", votes[0].GuessedIdentityID)
	}
}

func TestTwoPlayerGameFinishesAfterTwoVotes(t *testing.T) {
	setupTestDB(t)
	cfg := testConfig()

	alice := newTestPlayer(t, "Alice")
	bob := newTestPlayer(t, "Bob")
	game := newTestGame(t, alice, "duo votes")
	joinTestGame(t, game, bob)
	startTestGame(t, game)

	castVote(t, cfg, game, alice, bob.userID, alice.userID)

	current, err := getGame(game.ID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if current.Status == StatusFinished {
		t.Fatal("game finished with only one voter done")
	}

	castVote(t, cfg, game, bob, alice.userID, bob.userID)

	current, err = getGame(game.ID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if current.Status != StatusFinished {
		t.Errorf("expected finished, got %q", current.Status)
	}
	if current.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}
}

func TestVoteResultsRanking(t *testing.T) {
	setupTestDB(t)
	cfg := testConfig()

	players := make([]testPlayer, 3)
	names := []string{"Alice", "Bob", "Carol"}
	for i, name := range names {
		players[i] = newTestPlayer(t, name)
	}
	game := newTestGame(t, players[0], "results")
	joinTestGame(t, game, players[1], players[2])
	for i, p := range players {
		setTestProfile(t, p, game.ID, names[i])
	}
	assignments := startTestGame(t, game)

	// Everyone guesses correctly about Alice; nobody guesses correctly
	// about the others.
	alice := players[0]
	for _, voter := range players {
		for _, target := range players {
			if target.userID == voter.userID {
				continue
			}
			guess := "wrong-identity"
			if target.userID == alice.userID {
				guess = assignments[alice.userID]
			}
			castVote(t, cfg, game, voter, target.userID, guess)
		}
	}

	results, err := computeVoteResults(game.ID)
	if err != nil {
		t.Fatalf("compute results: %v", err)
	}
	if len(results.Results) != 3 {
		t.Fatalf("expected 3 result rows, got %d", len(results.Results))
	}

	top := results.Results[0]
	if top.UserID != alice.userID {
		t.Errorf("expected alice ranked first, got %s", top.UserID)
	}
	if top.CorrectGuesses != 2 {
		t.Errorf("expected 2 correct guesses about alice, got %d", top.CorrectGuesses)
	}
	if !top.WasGuessedCorrectly {
		t.Error("alice should be marked as guessed correctly")
	}
	for _, row := range results.Results[1:] {
		if row.CorrectGuesses != 0 {
			t.Errorf("expected 0 correct guesses for %s, got %d", row.UserID, row.CorrectGuesses)
		}
	}
}

func TestFinishedGameCannotReenterVoting(t *testing.T) {
	setupTestDB(t)
	cfg := testConfig()

	alice := newTestPlayer(t, "Alice")
	bob := newTestPlayer(t, "Bob")
	game := newTestGame(t, alice, "revote")
	joinTestGame(t, game, bob)
	startTestGame(t, game)

	castVote(t, cfg, game, alice, bob.userID, alice.userID)
	castVote(t, cfg, game, bob, alice.userID, bob.userID)

	current, _ := getGame(game.ID)
	if current.Status != StatusFinished {
		t.Fatalf("expected finished before revote, got %q", current.Status)
	}

	// A finished game stays finished; only active or voting games can
	// re-enter voting.
	changed, err := markGameVoting(game.ID)
	if err != nil {
		t.Fatalf("mark voting: %v", err)
	}
	if changed {
		t.Fatal("finished game must not re-enter voting")
	}
}

func TestMarkVotingResetsVotesFromActive(t *testing.T) {
	setupTestDB(t)
	cfg := testConfig()

	alice := newTestPlayer(t, "Alice")
	bob := newTestPlayer(t, "Bob")
	carol := newTestPlayer(t, "Carol")
	game := newTestGame(t, alice, "reset")
	joinTestGame(t, game, bob, carol)
	startTestGame(t, game)

	castVote(t, cfg, game, alice, bob.userID, carol.userID)

	changed, err := markGameVoting(game.ID)
	if err != nil {
		t.Fatalf("mark voting: %v", err)
	}
	if !changed {
		t.Fatal("expected transition to voting")
	}

	votes, err := votesByGame(game.ID)
	if err != nil {
		t.Fatalf("votes by game: %v", err)
	}
	if len(votes) != 0 {
		t.Errorf("expected stale votes cleared, found %d", len(votes))
	}
}
