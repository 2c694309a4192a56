package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schoolvote/server/internal/model"
)

var (
	// ErrNotFound covers any referenced entity that does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrConflict covers duplicate unique fields (voterId, position title).
	ErrConflict = errors.New("conflict")
)

// ValidationError reports missing or malformed required input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// BudgetExceededError is returned when a voter has exhausted the allowed
// number of votes. It carries the current count and the limit for the
// response body.
type BudgetExceededError struct {
	Count int
	Limit int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("voter has already cast %d of %d allowed vote(s)", e.Count, e.Limit)
}

// SubmitRecord is everything SubmitBallots persists in one atomic unit: the
// ballot rows, the receipt token appended to the voter's history, and the
// conditional vote-count increment. The store must apply the increment only
// while vote_count is below MaxVotes and roll the ballots back otherwise, so
// two concurrent submissions for one voter can never both pass the budget.
type SubmitRecord struct {
	VoterID  string // internal voter id, not the external VoterID
	Ballots  []model.Ballot
	Token    string
	At       time.Time
	MaxVotes int
}

// Invalidator is the slice of the cache the services need for write-path
// invalidation.
type Invalidator interface {
	Invalidate(key string) bool
}

// ReceiptCache is an optional fast path for receipt token lookups. Lookup
// misses are reported via the bool, not an error.
type ReceiptCache interface {
	Put(ctx context.Context, token, voterID string) error
	Lookup(ctx context.Context, token string) (voterID string, ok bool, err error)
}

// Store is the persistence contract for the election services. Methods that
// touch more than one entity (SetCurrentElection, DeleteElectionCascade,
// SaveSettingsWithElection, SubmitBallots) are atomic: either every write in
// the operation lands or none do.
type Store interface {
	CreateElection(ctx context.Context, e model.Election) (model.Election, error)
	GetElection(ctx context.Context, id string) (model.Election, error)
	ListElections(ctx context.Context) ([]model.Election, error)
	CountElections(ctx context.Context) (int, error)
	GetCurrentElection(ctx context.Context) (model.Election, error)
	UpdateElection(ctx context.Context, e model.Election) (model.Election, error)
	SetCurrentElection(ctx context.Context, id string) (model.Election, error)
	DeleteElectionCascade(ctx context.Context, id string) (model.DeleteStats, error)

	GetSettings(ctx context.Context) (model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) (model.Settings, error)
	SaveSettingsWithElection(ctx context.Context, s model.Settings, e model.Election) (model.Settings, error)

	CreatePosition(ctx context.Context, p model.Position) (model.Position, error)
	GetPosition(ctx context.Context, id string) (model.Position, error)
	ListPositions(ctx context.Context, electionID string) ([]model.Position, error)

	CreateCandidate(ctx context.Context, c model.Candidate) (model.Candidate, error)
	ListCandidates(ctx context.Context, electionID string) ([]model.Candidate, error)
	ListCandidatesByPosition(ctx context.Context, positionID string) ([]model.Candidate, error)

	CreateVoter(ctx context.Context, v model.Voter) (model.Voter, error)
	GetVoterByVoterID(ctx context.Context, voterID string) (model.Voter, error)
	FindVoterByToken(ctx context.Context, token string) (model.Voter, error)
	ListVoterTokens(ctx context.Context, voterID string) ([]model.VoteToken, error)
	CountVoters(ctx context.Context, electionID string) (total int, voted int, err error)
	RecentVoters(ctx context.Context, electionID string, limit int) ([]model.Voter, error)

	SubmitBallots(ctx context.Context, rec SubmitRecord) (model.Voter, []model.VoteToken, error)
	CountCandidateVotes(ctx context.Context, electionID, candidateID string) (int, error)
	CountAbstentions(ctx context.Context, electionID, positionID string) (int, error)

	CreateYear(ctx context.Context, y model.Year) (model.Year, error)
	ListYears(ctx context.Context, electionID string) ([]model.Year, error)
	CreateClass(ctx context.Context, c model.Class) (model.Class, error)
	ListClasses(ctx context.Context, electionID string) ([]model.Class, error)
	CreateHouse(ctx context.Context, h model.House) (model.House, error)
	ListHouses(ctx context.Context, electionID string) ([]model.House, error)

	InsertActivityLog(ctx context.Context, entry model.ActivityLog) error
}

// noopInvalidator lets services run without a cache wired in.
type noopInvalidator struct{}

func (noopInvalidator) Invalidate(string) bool { return false }
