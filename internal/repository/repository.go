package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schoolvote/server/internal/model"
	"github.com/schoolvote/server/internal/service"
)

// Store implements service.Store on PostgreSQL. Multi-entity operations run
// inside a transaction so partial writes never land.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// mapErr translates driver errors into the service-level sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return service.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return service.ErrConflict
	}
	return err
}

const electionColumns = `
	id, title, date, start_date, end_date, start_time, end_time,
	total_voters, voted_count, is_current, is_active, status,
	results_published, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanElection(row rowScanner) (model.Election, error) {
	var e model.Election
	err := row.Scan(
		&e.ID, &e.Title, &e.Date, &e.StartDate, &e.EndDate, &e.StartTime, &e.EndTime,
		&e.TotalVoters, &e.VotedCount, &e.IsCurrent, &e.IsActive, &e.Status,
		&e.ResultsPublished, &e.CreatedAt, &e.UpdatedAt,
	)
	return e, mapErr(err)
}

func (s *Store) CreateElection(ctx context.Context, e model.Election) (model.Election, error) {
	e.Normalize()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO elections (title, date, start_date, end_date, start_time, end_time,
			is_current, is_active, status, results_published)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+electionColumns,
		e.Title, e.Date, e.StartDate, e.EndDate, e.StartTime, e.EndTime,
		e.IsCurrent, e.IsActive, e.Status, e.ResultsPublished)
	return scanElection(row)
}

func (s *Store) GetElection(ctx context.Context, id string) (model.Election, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+electionColumns+` FROM elections WHERE id = $1`, id)
	return scanElection(row)
}

func (s *Store) ListElections(ctx context.Context) ([]model.Election, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+electionColumns+` FROM elections ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Election
	for rows.Next() {
		e, err := scanElection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CountElections(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM elections`).Scan(&count)
	return count, err
}

func (s *Store) GetCurrentElection(ctx context.Context) (model.Election, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+electionColumns+` FROM elections WHERE is_current = true`)
	return scanElection(row)
}

func updateElectionTx(ctx context.Context, tx pgx.Tx, e model.Election) (model.Election, error) {
	e.Normalize()
	row := tx.QueryRow(ctx, `
		UPDATE elections
		SET title = $2, date = $3, start_date = $4, end_date = $5, start_time = $6,
			end_time = $7, is_current = $8, is_active = $9, status = $10,
			results_published = $11, updated_at = now()
		WHERE id = $1
		RETURNING `+electionColumns,
		e.ID, e.Title, e.Date, e.StartDate, e.EndDate, e.StartTime, e.EndTime,
		e.IsCurrent, e.IsActive, e.Status, e.ResultsPublished)
	return scanElection(row)
}

func (s *Store) UpdateElection(ctx context.Context, e model.Election) (model.Election, error) {
	var updated model.Election
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		updated, err = updateElectionTx(ctx, tx, e)
		return err
	})
	return updated, err
}

// SetCurrentElection promotes one election and demotes every other in a
// single transaction, preserving the target's active flag across the swap.
func (s *Store) SetCurrentElection(ctx context.Context, id string) (model.Election, error) {
	var promoted model.Election
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+electionColumns+` FROM elections WHERE id = $1 FOR UPDATE`, id)
		target, err := scanElection(row)
		if err != nil {
			return err
		}
		wasActive := target.IsActive

		if _, err := tx.Exec(ctx, `
			UPDATE elections
			SET is_current = false, is_active = false,
				status = CASE WHEN status = 'active' THEN 'not-started' ELSE status END,
				updated_at = now()
			WHERE is_current = true OR is_active = true
		`); err != nil {
			return err
		}

		target.IsCurrent = true
		target.IsActive = wasActive
		promoted, err = updateElectionTx(ctx, tx, target)
		return err
	})
	return promoted, err
}

// DeleteElectionCascade removes the election and everything hanging off it,
// reporting how many rows each collection lost.
func (s *Store) DeleteElectionCascade(ctx context.Context, id string) (model.DeleteStats, error) {
	var stats model.DeleteStats
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM elections WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return service.ErrNotFound
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM vote_tokens WHERE voter_id IN (SELECT id FROM voters WHERE election_id = $1)
		`, id); err != nil {
			return err
		}

		deletes := []struct {
			query string
			count *int
		}{
			{`DELETE FROM votes WHERE election_id = $1`, &stats.Votes},
			{`DELETE FROM candidates WHERE election_id = $1`, &stats.Candidates},
			{`DELETE FROM positions WHERE election_id = $1`, &stats.Positions},
			{`DELETE FROM voters WHERE election_id = $1`, &stats.Voters},
			{`DELETE FROM years WHERE election_id = $1`, &stats.Years},
			{`DELETE FROM classes WHERE election_id = $1`, &stats.Classes},
			{`DELETE FROM houses WHERE election_id = $1`, &stats.Houses},
		}
		for _, d := range deletes {
			tag, err := tx.Exec(ctx, d.query, id)
			if err != nil {
				return err
			}
			*d.count = int(tag.RowsAffected())
		}

		_, err := tx.Exec(ctx, `DELETE FROM elections WHERE id = $1`, id)
		return err
	})
	return stats, err
}

const settingsColumns = `
	is_active, election_title, voting_start_date, voting_end_date,
	voting_start_time, voting_end_time, results_published,
	allow_voter_registration, max_votes_per_voter,
	system_name, system_logo, school_name, school_logo,
	created_at, updated_at
`

func scanSettings(row rowScanner) (model.Settings, error) {
	var st model.Settings
	err := row.Scan(
		&st.IsActive, &st.ElectionTitle, &st.VotingStartDate, &st.VotingEndDate,
		&st.VotingStartTime, &st.VotingEndTime, &st.ResultsPublished,
		&st.AllowVoterRegistration, &st.MaxVotesPerVoter,
		&st.SystemName, &st.SystemLogo, &st.SchoolName, &st.SchoolLogo,
		&st.CreatedAt, &st.UpdatedAt,
	)
	return st, mapErr(err)
}

func (s *Store) GetSettings(ctx context.Context) (model.Settings, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+settingsColumns+` FROM settings WHERE id = 1`)
	return scanSettings(row)
}

// settings is a single row, keyed to id 1 and upserted in place.
func saveSettingsTx(ctx context.Context, tx pgx.Tx, st model.Settings) (model.Settings, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO settings (id, is_active, election_title, voting_start_date, voting_end_date,
			voting_start_time, voting_end_time, results_published, allow_voter_registration,
			max_votes_per_voter, system_name, system_logo, school_name, school_logo)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			election_title = EXCLUDED.election_title,
			voting_start_date = EXCLUDED.voting_start_date,
			voting_end_date = EXCLUDED.voting_end_date,
			voting_start_time = EXCLUDED.voting_start_time,
			voting_end_time = EXCLUDED.voting_end_time,
			results_published = EXCLUDED.results_published,
			allow_voter_registration = EXCLUDED.allow_voter_registration,
			max_votes_per_voter = EXCLUDED.max_votes_per_voter,
			system_name = EXCLUDED.system_name,
			system_logo = EXCLUDED.system_logo,
			school_name = EXCLUDED.school_name,
			school_logo = EXCLUDED.school_logo,
			updated_at = now()
		RETURNING `+settingsColumns,
		st.IsActive, st.ElectionTitle, st.VotingStartDate, st.VotingEndDate,
		st.VotingStartTime, st.VotingEndTime, st.ResultsPublished,
		st.AllowVoterRegistration, st.MaxVotesPerVoter,
		st.SystemName, st.SystemLogo, st.SchoolName, st.SchoolLogo)
	return scanSettings(row)
}

func (s *Store) SaveSettings(ctx context.Context, st model.Settings) (model.Settings, error) {
	var saved model.Settings
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		saved, err = saveSettingsTx(ctx, tx, st)
		return err
	})
	return saved, err
}

func (s *Store) SaveSettingsWithElection(ctx context.Context, st model.Settings, e model.Election) (model.Settings, error) {
	var saved model.Settings
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := updateElectionTx(ctx, tx, e); err != nil {
			return err
		}
		var err error
		saved, err = saveSettingsTx(ctx, tx, st)
		return err
	})
	return saved, err
}

const positionColumns = `
	id, election_id, title, description, priority, ordering,
	max_candidates, max_selections, is_active, created_at
`

func scanPosition(row rowScanner) (model.Position, error) {
	var p model.Position
	err := row.Scan(
		&p.ID, &p.ElectionID, &p.Title, &p.Description, &p.Priority, &p.Order,
		&p.MaxCandidates, &p.MaxSelections, &p.IsActive, &p.CreatedAt,
	)
	return p, mapErr(err)
}

func (s *Store) CreatePosition(ctx context.Context, p model.Position) (model.Position, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO positions (election_id, title, description, priority, ordering,
			max_candidates, max_selections, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+positionColumns,
		p.ElectionID, p.Title, p.Description, p.Priority, p.Order,
		p.MaxCandidates, p.MaxSelections, p.IsActive)
	return scanPosition(row)
}

func (s *Store) GetPosition(ctx context.Context, id string) (model.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	return scanPosition(row)
}

func (s *Store) ListPositions(ctx context.Context, electionID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE election_id = $1
		ORDER BY priority, ordering
	`, electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const candidateColumns = `
	id, election_id, position_id, name, image, biography, year, class, house,
	is_active, voter_category_type, voter_category_values, created_at
`

func scanCandidate(row rowScanner) (model.Candidate, error) {
	var c model.Candidate
	err := row.Scan(
		&c.ID, &c.ElectionID, &c.PositionID, &c.Name, &c.Image, &c.Biography,
		&c.Year, &c.Class, &c.House, &c.IsActive,
		&c.VoterCategory.Type, &c.VoterCategory.Values, &c.CreatedAt,
	)
	return c, mapErr(err)
}

func (s *Store) CreateCandidate(ctx context.Context, c model.Candidate) (model.Candidate, error) {
	if c.VoterCategory.Type == "" {
		c.VoterCategory.Type = "all"
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO candidates (election_id, position_id, name, image, biography,
			year, class, house, is_active, voter_category_type, voter_category_values)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+candidateColumns,
		c.ElectionID, c.PositionID, c.Name, c.Image, c.Biography,
		c.Year, c.Class, c.House, c.IsActive, c.VoterCategory.Type, c.VoterCategory.Values)
	return scanCandidate(row)
}

func (s *Store) ListCandidates(ctx context.Context, electionID string) ([]model.Candidate, error) {
	return s.listCandidates(ctx, `WHERE election_id = $1`, electionID)
}

func (s *Store) ListCandidatesByPosition(ctx context.Context, positionID string) ([]model.Candidate, error) {
	return s.listCandidates(ctx, `WHERE position_id = $1`, positionID)
}

func (s *Store) listCandidates(ctx context.Context, where, arg string) ([]model.Candidate, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+candidateColumns+` FROM candidates `+where+` ORDER BY name`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const voterColumns = `
	id, election_id, voter_id, student_id, name, gender, class, year, house,
	vote_count, has_voted, voted_at, vote_token, created_at
`

func scanVoter(row rowScanner) (model.Voter, error) {
	var v model.Voter
	err := row.Scan(
		&v.ID, &v.ElectionID, &v.VoterID, &v.StudentID, &v.Name, &v.Gender,
		&v.Class, &v.Year, &v.House, &v.VoteCount, &v.HasVoted, &v.VotedAt,
		&v.VoteToken, &v.CreatedAt,
	)
	return v, mapErr(err)
}

func (s *Store) CreateVoter(ctx context.Context, v model.Voter) (model.Voter, error) {
	v.VoterID = strings.ToUpper(strings.TrimSpace(v.VoterID))
	row := s.pool.QueryRow(ctx, `
		INSERT INTO voters (election_id, voter_id, student_id, name, gender, class, year, house)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+voterColumns,
		v.ElectionID, v.VoterID, v.StudentID, v.Name, v.Gender, v.Class, v.Year, v.House)
	return scanVoter(row)
}

func (s *Store) GetVoterByVoterID(ctx context.Context, voterID string) (model.Voter, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+voterColumns+` FROM voters WHERE voter_id = $1`, voterID)
	return scanVoter(row)
}

func (s *Store) FindVoterByToken(ctx context.Context, token string) (model.Voter, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+voterColumns+`
		FROM voters
		WHERE id IN (SELECT voter_id FROM vote_tokens WHERE token = $1)
		ORDER BY created_at
		LIMIT 1
	`, token)
	return scanVoter(row)
}

func (s *Store) ListVoterTokens(ctx context.Context, voterID string) ([]model.VoteToken, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token, created_at FROM vote_tokens WHERE voter_id = $1 ORDER BY created_at
	`, voterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.VoteToken
	for rows.Next() {
		var t model.VoteToken
		if err := rows.Scan(&t.Token, &t.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CountVoters(ctx context.Context, electionID string) (int, int, error) {
	var total, voted int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE has_voted)
		FROM voters
		WHERE election_id = $1
	`, electionID).Scan(&total, &voted)
	return total, voted, err
}

func (s *Store) RecentVoters(ctx context.Context, electionID string, limit int) ([]model.Voter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+voterColumns+`
		FROM voters
		WHERE election_id = $1 AND has_voted AND voted_at IS NOT NULL
		ORDER BY voted_at DESC
		LIMIT $2
	`, electionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Voter
	for rows.Next() {
		v, err := scanVoter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SubmitBallots writes one voting session atomically. The voter row is
// locked first so concurrent submissions serialize on the budget check, and
// a duplicate (voter, election, position, session) row is dropped by the
// unique index rather than failing the whole session.
func (s *Store) SubmitBallots(ctx context.Context, rec service.SubmitRecord) (model.Voter, []model.VoteToken, error) {
	var (
		voter  model.Voter
		tokens []model.VoteToken
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var voteCount int
		err := tx.QueryRow(ctx, `SELECT vote_count FROM voters WHERE id = $1 FOR UPDATE`, rec.VoterID).Scan(&voteCount)
		if err != nil {
			return mapErr(err)
		}
		if voteCount >= rec.MaxVotes {
			return &service.BudgetExceededError{Count: voteCount, Limit: rec.MaxVotes}
		}

		for _, b := range rec.Ballots {
			if _, err := tx.Exec(ctx, `
				INSERT INTO votes (election_id, voter_id, position, position_id,
					candidate_id, is_abstention, voting_session, created_at)
				VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7, $8)
				ON CONFLICT (voter_id, election_id, position_id, voting_session) DO NOTHING
			`, b.ElectionID, b.VoterID, b.Position, b.PositionID,
				b.CandidateID, b.IsAbstention, b.VotingSession, b.Timestamp); err != nil {
				return err
			}
		}

		row := tx.QueryRow(ctx, `
			UPDATE voters
			SET vote_count = vote_count + 1, has_voted = true, voted_at = $2, vote_token = $3
			WHERE id = $1
			RETURNING `+voterColumns,
			rec.VoterID, rec.At, rec.Token)
		voter, err = scanVoter(row)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO vote_tokens (voter_id, token, created_at) VALUES ($1, $2, $3)
		`, rec.VoterID, rec.Token, rec.At); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			SELECT token, created_at FROM vote_tokens WHERE voter_id = $1 ORDER BY created_at
		`, rec.VoterID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t model.VoteToken
			if err := rows.Scan(&t.Token, &t.Timestamp); err != nil {
				return err
			}
			tokens = append(tokens, t)
		}
		return rows.Err()
	})
	if err != nil {
		return model.Voter{}, nil, err
	}
	return voter, tokens, nil
}

func (s *Store) CountCandidateVotes(ctx context.Context, electionID, candidateID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM votes
		WHERE election_id = $1 AND candidate_id = $2 AND NOT is_abstention
	`, electionID, candidateID).Scan(&count)
	return count, err
}

func (s *Store) CountAbstentions(ctx context.Context, electionID, positionID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM votes
		WHERE election_id = $1 AND position_id = $2 AND is_abstention
	`, electionID, positionID).Scan(&count)
	return count, err
}

func (s *Store) CreateYear(ctx context.Context, y model.Year) (model.Year, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO years (election_id, name, active) VALUES ($1, $2, $3)
		RETURNING id, election_id, name, active
	`, y.ElectionID, y.Name, y.Active)
	err := row.Scan(&y.ID, &y.ElectionID, &y.Name, &y.Active)
	return y, mapErr(err)
}

func (s *Store) ListYears(ctx context.Context, electionID string) ([]model.Year, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, election_id, name, active FROM years WHERE election_id = $1 ORDER BY name
	`, electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Year
	for rows.Next() {
		var y model.Year
		if err := rows.Scan(&y.ID, &y.ElectionID, &y.Name, &y.Active); err != nil {
			return nil, err
		}
		out = append(out, y)
	}
	return out, rows.Err()
}

func (s *Store) CreateClass(ctx context.Context, c model.Class) (model.Class, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO classes (election_id, name, active) VALUES ($1, $2, $3)
		RETURNING id, election_id, name, active
	`, c.ElectionID, c.Name, c.Active)
	err := row.Scan(&c.ID, &c.ElectionID, &c.Name, &c.Active)
	return c, mapErr(err)
}

func (s *Store) ListClasses(ctx context.Context, electionID string) ([]model.Class, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, election_id, name, active FROM classes WHERE election_id = $1 ORDER BY name
	`, electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Class
	for rows.Next() {
		var c model.Class
		if err := rows.Scan(&c.ID, &c.ElectionID, &c.Name, &c.Active); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateHouse(ctx context.Context, h model.House) (model.House, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO houses (election_id, name, color, active) VALUES ($1, $2, $3, $4)
		RETURNING id, election_id, name, color, active
	`, h.ElectionID, h.Name, h.Color, h.Active)
	err := row.Scan(&h.ID, &h.ElectionID, &h.Name, &h.Color, &h.Active)
	return h, mapErr(err)
}

func (s *Store) ListHouses(ctx context.Context, electionID string) ([]model.House, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, election_id, name, color, active FROM houses WHERE election_id = $1 ORDER BY name
	`, electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.House
	for rows.Next() {
		var h model.House
		if err := rows.Scan(&h.ID, &h.ElectionID, &h.Name, &h.Color, &h.Active); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) InsertActivityLog(ctx context.Context, entry model.ActivityLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO activity_logs (action, entity, entity_id, details, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.Action, entry.Entity, entry.EntityID, entry.Details, entry.IPAddress, entry.Timestamp)
	return err
}
