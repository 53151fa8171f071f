package main

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
)

var db *sqlx.DB

// rawJSON carries an opaque JSON blob between a nullable TEXT column and the
// wire. database/sql only scans into *[]byte and *string, so the blob needs
// its own Scanner/Valuer pair.
type rawJSON []byte

func (j *rawJSON) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case string:
		*j = rawJSON(v)
	case []byte:
		*j = append((*j)[:0:0], v...)
	default:
		return fmt.Errorf("cannot scan %T into rawJSON", src)
	}
	return nil
}

func (j rawJSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j rawJSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *rawJSON) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0:0], data...)
	return nil
}

// Game statuses. Forward-only: waiting → active → voting → finished, with
// the single exception that a voting game may re-enter voting for a fresh
// round.
const (
	StatusWaiting  = "waiting"
	StatusActive   = "active"
	StatusVoting   = "voting"
	StatusFinished = "finished"
)

type Game struct {
	ID            string     `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	CreatorID     string     `db:"creator_id" json:"creatorId"`
	Status        string     `db:"status" json:"status"`
	WinnerID      *string    `db:"winner_id" json:"winnerId"`
	MiniGameState rawJSON    `db:"mini_game_state" json:"miniGameState"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	StartedAt     *time.Time `db:"started_at" json:"startedAt"`
	FinishedAt    *time.Time `db:"finished_at" json:"finishedAt"`
}

type Participant struct {
	GameID             string  `db:"game_id" json:"-"`
	UserID             string  `db:"user_id" json:"userId"`
	AssignedIdentityID *string `db:"assigned_identity_id" json:"assignedIdentityId"`
	IsDiscovered       bool    `db:"is_discovered" json:"isDiscovered"`
}

type Clue struct {
	ID              string    `db:"id" json:"id"`
	GameID          string    `db:"game_id" json:"gameId"`
	RecipientUserID string    `db:"recipient_user_id" json:"recipientUserId"`
	TargetUserID    string    `db:"target_user_id" json:"targetUserId"`
	Letter          string    `db:"letter" json:"letter"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

type Vote struct {
	ID                string    `db:"id" json:"id"`
	GameID            string    `db:"game_id" json:"gameId"`
	VoterID           string    `db:"voter_id" json:"voterId"`
	TargetUserID      string    `db:"target_user_id" json:"targetUserId"`
	GuessedIdentityID string    `db:"guessed_identity_id" json:"guessedIdentityId"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
}

type Profile struct {
	UserID      string    `db:"user_id" json:"userId"`
	GameID      string    `db:"game_id" json:"gameId"`
	DisplayName string    `db:"display_name" json:"displayName"`
	Bio         string    `db:"bio" json:"bio"`
	Interests   string    `db:"interests" json:"interests"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

func initDB() error {
	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS game (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'waiting',
		winner_id TEXT,
		mini_game_state TEXT,
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		finished_at TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS game_participant (
		game_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		assigned_identity_id TEXT,
		is_discovered INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (game_id) REFERENCES game(id),
		UNIQUE(game_id, user_id)
	);
	CREATE TABLE IF NOT EXISTS clue (
		id TEXT PRIMARY KEY,
		game_id TEXT NOT NULL,
		recipient_user_id TEXT NOT NULL,
		target_user_id TEXT NOT NULL,
		letter TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (game_id) REFERENCES game(id)
	);
	CREATE TABLE IF NOT EXISTS vote (
		id TEXT NOT NULL,
		game_id TEXT NOT NULL,
		voter_id TEXT NOT NULL,
		target_user_id TEXT NOT NULL,
		guessed_identity_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(game_id, voter_id, target_user_id)
	);
	CREATE TABLE IF NOT EXISTS profile (
		user_id TEXT NOT NULL,
		game_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		bio TEXT NOT NULL DEFAULT '',
		interests TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(user_id, game_id)
	);
	CREATE TABLE IF NOT EXISTS player (
		id TEXT PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		secret_code TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS auth_session (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES player(id)
	);
	CREATE INDEX IF NOT EXISTS idx_vote_game ON vote(game_id);
	CREATE INDEX IF NOT EXISTS idx_clue_game ON clue(game_id, recipient_user_id);
	CREATE INDEX IF NOT EXISTS idx_participant_user ON game_participant(user_id);
	`
	_, err := db.Exec(schema)
	if err != nil {
		log.Printf("initDB error: %v", err)
		return err
	}
	return nil
}

func getGame(gameID string) (Game, error) {
	var game Game
	err := db.Get(&game, `
		SELECT id, name, creator_id, status, winner_id, mini_game_state, created_at, started_at, finished_at
		FROM game
		WHERE id = ?`, gameID)
	return game, err
}

func insertGame(game Game) error {
	_, err := db.Exec(`
		INSERT INTO game (id, name, creator_id, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		game.ID, game.Name, game.CreatorID, game.Status, game.CreatedAt)
	return err
}

// getParticipants returns the participants in join order.
func getParticipants(gameID string) ([]Participant, error) {
	var participants []Participant
	err := db.Select(&participants, `
		SELECT game_id, user_id, assigned_identity_id, is_discovered
		FROM game_participant
		WHERE game_id = ?
		ORDER BY rowid`, gameID)
	return participants, err
}

// addParticipant appends a participant unless they already joined or the
// game has left waiting. The INSERT OR IGNORE plus the status predicate in
// the source SELECT make this the atomic join guard: concurrent joins for
// the same user never duplicate the entry, a join racing a start never
// slips an unassigned participant into an active game, and RowsAffected
// tells the caller whether this call was the one that joined.
func addParticipant(gameID, userID string) (bool, error) {
	result, err := db.Exec(`
		INSERT OR IGNORE INTO game_participant (game_id, user_id)
		SELECT ?, ? FROM game WHERE id = ? AND status = ?`,
		gameID, userID, gameID, StatusWaiting)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func isParticipant(gameID, userID string) (bool, error) {
	var count int
	err := db.Get(&count, `
		SELECT COUNT(*) FROM game_participant
		WHERE game_id = ? AND user_id = ?`, gameID, userID)
	return count > 0, err
}

func countParticipants(gameID string) (int, error) {
	var count int
	err := db.Get(&count, "SELECT COUNT(*) FROM game_participant WHERE game_id = ?", gameID)
	return count, err
}

func removeParticipantRow(gameID, userID string) error {
	_, err := db.Exec("DELETE FROM game_participant WHERE game_id = ? AND user_id = ?", gameID, userID)
	return err
}

// markGameStarted writes the identity assignment and flips the game to
// active in one transaction. The status flip is a compare-and-set on
// 'waiting', so concurrent starters (explicit start racing auto-start)
// resolve to exactly one winner; the loser sees started == false.
func markGameStarted(gameID string, assignments map[string]string) (bool, error) {
	tx, err := db.Beginx()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE game SET status = ?, started_at = ?
		WHERE id = ? AND status = ?`,
		StatusActive, time.Now().UTC(), gameID, StatusWaiting)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	for userID, identityID := range assignments {
		_, err = tx.Exec(`
			UPDATE game_participant SET assigned_identity_id = ?, is_discovered = 0
			WHERE game_id = ? AND user_id = ?`,
			identityID, gameID, userID)
		if err != nil {
			return false, err
		}
	}

	return true, tx.Commit()
}

// markGameVoting flips the game into the voting phase and discards any
// artifacts of a previous voting round (stale votes, finished_at) so a
// re-entered round starts clean. Legal only from active or voting.
func markGameVoting(gameID string) (bool, error) {
	tx, err := db.Beginx()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE game SET status = ?, finished_at = NULL
		WHERE id = ? AND status IN (?, ?)`,
		StatusVoting, gameID, StatusActive, StatusVoting)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	if _, err = tx.Exec("DELETE FROM vote WHERE game_id = ?", gameID); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// markGameFinished is a compare-and-set away from 'finished', so completion
// fires exactly once no matter how many late votes race the quorum check.
func markGameFinished(gameID string) (bool, error) {
	result, err := db.Exec(`
		UPDATE game SET status = ?, finished_at = ?
		WHERE id = ? AND status <> ?`,
		StatusFinished, time.Now().UTC(), gameID, StatusFinished)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// setWinner records the declared winner. The participant predicate is part
// of the update itself so a concurrent removal cannot produce a winner who
// is no longer in the game.
func setWinner(gameID, winnerUserID string) (bool, error) {
	result, err := db.Exec(`
		UPDATE game SET winner_id = ?
		WHERE id = ? AND EXISTS (
			SELECT 1 FROM game_participant WHERE game_id = ? AND user_id = ?
		)`, winnerUserID, gameID, gameID, winnerUserID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// appendClueForWinner appends a clue and clears the winner in one
// transaction. Clearing is a compare-and-set on winner_id == recipient, so a
// declared winner claims at most one clue per win even under concurrent
// requests.
func appendClueForWinner(clue Clue) (bool, error) {
	tx, err := db.Beginx()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE game SET winner_id = NULL
		WHERE id = ? AND winner_id = ?`,
		clue.GameID, clue.RecipientUserID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	_, err = tx.Exec(`
		INSERT INTO clue (id, game_id, recipient_user_id, target_user_id, letter, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		clue.ID, clue.GameID, clue.RecipientUserID, clue.TargetUserID, clue.Letter, clue.CreatedAt)
	if err != nil {
		return false, err
	}

	return true, tx.Commit()
}

func cluesForRecipient(gameID, userID string) ([]Clue, error) {
	var clues []Clue
	err := db.Select(&clues, `
		SELECT id, game_id, recipient_user_id, target_user_id, letter, created_at
		FROM clue
		WHERE game_id = ? AND recipient_user_id = ?
		ORDER BY rowid`, gameID, userID)
	return clues, err
}

// upsertVote records or overwrites a guess. The conflict target is the vote
// key (game, voter, target): a resubmission updates the guess and timestamp
// in place and keeps the original vote id.
func upsertVote(vote Vote) (string, error) {
	_, err := db.Exec(`
		INSERT INTO vote (id, game_id, voter_id, target_user_id, guessed_identity_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(game_id, voter_id, target_user_id)
		DO UPDATE SET guessed_identity_id = excluded.guessed_identity_id, created_at = excluded.created_at`,
		vote.ID, vote.GameID, vote.VoterID, vote.TargetUserID, vote.GuessedIdentityID, vote.CreatedAt)
	if err != nil {
		return "", err
	}

	var voteID string
	err = db.Get(&voteID, `
		SELECT id FROM vote
		WHERE game_id = ? AND voter_id = ? AND target_user_id = ?`,
		vote.GameID, vote.VoterID, vote.TargetUserID)
	return voteID, err
}

func votesByGame(gameID string) ([]Vote, error) {
	var votes []Vote
	err := db.Select(&votes, `
		SELECT id, game_id, voter_id, target_user_id, guessed_identity_id, created_at
		FROM vote
		WHERE game_id = ?
		ORDER BY rowid`, gameID)
	return votes, err
}

// voteCountsByVoter counts each voter's cast votes. Quorum is judged on
// per-voter totals, never the aggregate, so one voter's redundant votes can
// not mask another voter's silence.
func voteCountsByVoter(gameID string) (map[string]int, error) {
	rows, err := db.Query(`
		SELECT voter_id, COUNT(*) FROM vote
		WHERE game_id = ?
		GROUP BY voter_id`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var voterID string
		var count int
		if err := rows.Scan(&voterID, &count); err != nil {
			return nil, err
		}
		counts[voterID] = count
	}
	return counts, rows.Err()
}

// deleteGameCascade removes the game and everything scoped to it. The
// cleanups are sequential and best-effort; there is no cross-table
// transaction, so a failure mid-way leaves later tables for a retry.
func deleteGameCascade(gameID string) error {
	if _, err := db.Exec("DELETE FROM game WHERE id = ?", gameID); err != nil {
		return err
	}
	for _, stmt := range []string{
		"DELETE FROM game_participant WHERE game_id = ?",
		"DELETE FROM vote WHERE game_id = ?",
		"DELETE FROM clue WHERE game_id = ?",
		"DELETE FROM profile WHERE game_id = ?",
	} {
		if _, err := db.Exec(stmt, gameID); err != nil {
			logError("deleteGameCascade", err)
		}
	}
	return nil
}

func setMiniGameState(gameID string, state rawJSON) (bool, error) {
	result, err := db.Exec("UPDATE game SET mini_game_state = ? WHERE id = ?", state, gameID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func upsertProfile(profile Profile) error {
	_, err := db.Exec(`
		INSERT INTO profile (user_id, game_id, display_name, bio, interests, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, game_id)
		DO UPDATE SET display_name = excluded.display_name, bio = excluded.bio,
			interests = excluded.interests, updated_at = excluded.updated_at`,
		profile.UserID, profile.GameID, profile.DisplayName, profile.Bio, profile.Interests, profile.UpdatedAt)
	return err
}

func getProfile(userID, gameID string) (Profile, error) {
	var profile Profile
	err := db.Get(&profile, `
		SELECT user_id, game_id, display_name, bio, interests, updated_at
		FROM profile
		WHERE user_id = ? AND game_id = ?`, userID, gameID)
	return profile, err
}

// profilesByGame returns all profiles scoped to a game keyed by user id.
func profilesByGame(gameID string) (map[string]Profile, error) {
	var profiles []Profile
	err := db.Select(&profiles, `
		SELECT user_id, game_id, display_name, bio, interests, updated_at
		FROM profile
		WHERE game_id = ?`, gameID)
	if err != nil {
		return nil, err
	}
	byUser := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		byUser[p.UserID] = p
	}
	return byUser, nil
}

func availableGames() ([]Game, error) {
	var games []Game
	err := db.Select(&games, `
		SELECT id, name, creator_id, status, winner_id, mini_game_state, created_at, started_at, finished_at
		FROM game
		WHERE status = ?
		ORDER BY created_at DESC`, StatusWaiting)
	return games, err
}

// currentGameForUser returns the most recent game the user participates in.
func currentGameForUser(userID string) (Game, error) {
	var game Game
	err := db.Get(&game, `
		SELECT g.id, g.name, g.creator_id, g.status, g.winner_id, g.mini_game_state,
			g.created_at, g.started_at, g.finished_at
		FROM game g
		JOIN game_participant p ON p.game_id = g.id
		WHERE p.user_id = ?
		ORDER BY g.created_at DESC
		LIMIT 1`, userID)
	return game, err
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
