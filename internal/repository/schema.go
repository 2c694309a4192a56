package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is applied at startup. Statements are idempotent so restarting the
// server against an existing database is safe.
const Schema = `
CREATE TABLE IF NOT EXISTS elections (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	title text NOT NULL,
	date text NOT NULL DEFAULT '',
	start_date text NOT NULL DEFAULT '',
	end_date text NOT NULL DEFAULT '',
	start_time text NOT NULL DEFAULT '08:00:00',
	end_time text NOT NULL DEFAULT '17:00:00',
	total_voters int NOT NULL DEFAULT 0,
	voted_count int NOT NULL DEFAULT 0,
	is_current boolean NOT NULL DEFAULT false,
	is_active boolean NOT NULL DEFAULT false,
	status text NOT NULL DEFAULT 'not-started',
	results_published boolean NOT NULL DEFAULT false,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS elections_one_current
	ON elections (is_current) WHERE is_current;

CREATE TABLE IF NOT EXISTS settings (
	id int PRIMARY KEY CHECK (id = 1),
	is_active boolean NOT NULL DEFAULT false,
	election_title text NOT NULL DEFAULT '',
	voting_start_date text NOT NULL DEFAULT '',
	voting_end_date text NOT NULL DEFAULT '',
	voting_start_time text NOT NULL DEFAULT '08:00',
	voting_end_time text NOT NULL DEFAULT '17:00',
	results_published boolean NOT NULL DEFAULT false,
	allow_voter_registration boolean NOT NULL DEFAULT false,
	max_votes_per_voter int NOT NULL DEFAULT 1,
	system_name text NOT NULL DEFAULT '',
	system_logo text NOT NULL DEFAULT '',
	school_name text NOT NULL DEFAULT '',
	school_logo text NOT NULL DEFAULT '',
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS positions (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	election_id uuid NOT NULL REFERENCES elections (id),
	title text NOT NULL,
	description text NOT NULL DEFAULT '',
	priority int NOT NULL DEFAULT 0,
	ordering int NOT NULL DEFAULT 0,
	max_candidates int NOT NULL DEFAULT 0,
	max_selections int NOT NULL DEFAULT 1,
	is_active boolean NOT NULL DEFAULT true,
	created_at timestamptz NOT NULL DEFAULT now(),
	UNIQUE (election_id, title)
);

CREATE TABLE IF NOT EXISTS candidates (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	election_id uuid NOT NULL REFERENCES elections (id),
	position_id uuid NOT NULL REFERENCES positions (id),
	name text NOT NULL,
	image text NOT NULL DEFAULT '',
	biography text NOT NULL DEFAULT '',
	year text NOT NULL DEFAULT '',
	class text NOT NULL DEFAULT '',
	house text NOT NULL DEFAULT '',
	is_active boolean NOT NULL DEFAULT true,
	voter_category_type text NOT NULL DEFAULT 'all',
	voter_category_values text[] NOT NULL DEFAULT '{}',
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS voters (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	election_id uuid NOT NULL REFERENCES elections (id),
	voter_id text NOT NULL UNIQUE,
	student_id text NOT NULL DEFAULT '',
	name text NOT NULL,
	gender text NOT NULL DEFAULT '',
	class text NOT NULL DEFAULT '',
	year text NOT NULL DEFAULT '',
	house text NOT NULL DEFAULT '',
	vote_count int NOT NULL DEFAULT 0,
	has_voted boolean NOT NULL DEFAULT false,
	voted_at timestamptz,
	vote_token text NOT NULL DEFAULT '',
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS vote_tokens (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	voter_id uuid NOT NULL REFERENCES voters (id),
	token text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS vote_tokens_token ON vote_tokens (token);

CREATE TABLE IF NOT EXISTS votes (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	election_id uuid NOT NULL REFERENCES elections (id),
	voter_id uuid NOT NULL REFERENCES voters (id),
	position text NOT NULL,
	position_id uuid NOT NULL REFERENCES positions (id),
	candidate_id uuid REFERENCES candidates (id),
	is_abstention boolean NOT NULL DEFAULT false,
	voting_session uuid NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	UNIQUE (voter_id, election_id, position_id, voting_session)
);

CREATE INDEX IF NOT EXISTS votes_election_candidate ON votes (election_id, candidate_id);
CREATE INDEX IF NOT EXISTS votes_election_position ON votes (election_id, position_id);

CREATE TABLE IF NOT EXISTS years (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	election_id uuid NOT NULL REFERENCES elections (id),
	name text NOT NULL,
	active boolean NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS classes (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	election_id uuid NOT NULL REFERENCES elections (id),
	name text NOT NULL,
	active boolean NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS houses (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	election_id uuid NOT NULL REFERENCES elections (id),
	name text NOT NULL,
	color text NOT NULL DEFAULT '',
	active boolean NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS activity_logs (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	action text NOT NULL,
	entity text NOT NULL DEFAULT '',
	entity_id text NOT NULL DEFAULT '',
	details jsonb NOT NULL DEFAULT '{}',
	ip_address text NOT NULL DEFAULT '',
	created_at timestamptz NOT NULL DEFAULT now()
);
`

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// EnsureSchema creates the tables the server needs if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
