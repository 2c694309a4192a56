package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/schoolvote/server/internal/model"
)

var tokenFormat = regexp.MustCompile(`^[0-9A-F]{6}$`)

type voteFixture struct {
	store     *memStore
	votes     *Votes
	election  model.Election
	president model.Position
	secretary model.Position
	alice     model.Candidate
	voter     model.Voter
}

func newVoteFixture(t *testing.T, maxVotes int) *voteFixture {
	t.Helper()
	store := newMemStore()
	ctx := context.Background()

	settings := DefaultSettings(time.Now())
	settings.MaxVotesPerVoter = maxVotes
	store.SaveSettings(ctx, settings)

	election, _ := store.CreateElection(ctx, model.Election{
		Title: "Student Council Election", Date: "2025-05-15",
		StartTime: "08:00:00", EndTime: "17:00:00",
		IsCurrent: true, IsActive: true, Status: model.StatusActive,
	})
	president, _ := store.CreatePosition(ctx, model.Position{ElectionID: election.ID, Title: "President", Priority: 1})
	secretary, _ := store.CreatePosition(ctx, model.Position{ElectionID: election.ID, Title: "Secretary", Priority: 2})
	alice, _ := store.CreateCandidate(ctx, model.Candidate{ElectionID: election.ID, PositionID: president.ID, Name: "Alice Johnson"})
	voter, _ := store.CreateVoter(ctx, model.Voter{ElectionID: election.ID, VoterID: "voter001", StudentID: "S100", Name: "Test Voter"})

	return &voteFixture{
		store:     store,
		votes:     NewVotes(store),
		election:  election,
		president: president,
		secretary: secretary,
		alice:     alice,
		voter:     voter,
	}
}

func TestSubmitEndToEnd(t *testing.T) {
	f := newVoteFixture(t, 1)
	ctx := context.Background()

	result, err := f.votes.Submit(ctx, SubmitRequest{
		VoterID:     "voter001", // lower case on purpose
		Selections:  []Selection{{PositionID: f.president.ID, CandidateID: f.alice.ID}},
		Abstentions: []string{"Secretary"}, // by title
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !tokenFormat.MatchString(result.Token) {
		t.Fatalf("expected 6-char uppercase hex token, got %q", result.Token)
	}
	if result.VotesRemaining != 0 {
		t.Fatalf("expected no votes remaining, got %d", result.VotesRemaining)
	}
	if len(result.Tokens) != 1 || result.Tokens[0].Token != result.Token {
		t.Fatalf("expected token history with the new token, got %+v", result.Tokens)
	}

	if len(f.store.ballots) != 2 {
		t.Fatalf("expected 2 ballot rows, got %d", len(f.store.ballots))
	}
	session := f.store.ballots[0].VotingSession
	for _, b := range f.store.ballots {
		if b.VotingSession != session {
			t.Fatalf("expected a single voting session shared by all rows")
		}
		if b.Timestamp != f.store.ballots[0].Timestamp {
			t.Fatalf("expected a single timestamp shared by all rows")
		}
	}
	byPosition := map[string]model.Ballot{}
	for _, b := range f.store.ballots {
		byPosition[b.Position] = b
	}
	if b := byPosition["President"]; b.CandidateID != f.alice.ID || b.IsAbstention {
		t.Fatalf("unexpected president ballot: %+v", b)
	}
	if b := byPosition["Secretary"]; !b.IsAbstention || b.CandidateID != "" {
		t.Fatalf("unexpected abstention ballot: %+v", b)
	}
	if b := byPosition["Secretary"]; b.PositionID != f.secretary.ID {
		t.Fatalf("expected abstention resolved to position id, got %q", b.PositionID)
	}

	voter, _ := f.store.GetVoterByVoterID(ctx, "VOTER001")
	if voter.VoteCount != 1 || !voter.HasVoted || voter.VoteToken != result.Token {
		t.Fatalf("unexpected voter state: %+v", voter)
	}
	if len(f.store.logs) != 1 || f.store.logs[0].Action != "vote:submit" {
		t.Fatalf("expected activity log entry, got %+v", f.store.logs)
	}

	// Immediate resubmission exhausts the budget.
	_, err = f.votes.Submit(ctx, SubmitRequest{
		VoterID:    "VOTER001",
		Selections: []Selection{{PositionID: f.president.ID, CandidateID: f.alice.ID}},
	})
	var budgetErr *BudgetExceededError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("expected budget exceeded, got %v", err)
	}
	if budgetErr.Count != 1 || budgetErr.Limit != 1 {
		t.Fatalf("expected count/limit 1/1, got %d/%d", budgetErr.Count, budgetErr.Limit)
	}
	if len(f.store.ballots) != 2 {
		t.Fatalf("expected rejected submission to write no ballots, got %d", len(f.store.ballots))
	}
}

func TestSubmitDuplicatePositionWritesOneRow(t *testing.T) {
	f := newVoteFixture(t, 1)

	_, err := f.votes.Submit(context.Background(), SubmitRequest{
		VoterID: "VOTER001",
		Selections: []Selection{
			{PositionID: f.president.ID, CandidateID: f.alice.ID},
			{PositionID: f.president.ID, CandidateID: f.alice.ID},
		},
		Abstentions: []string{f.president.ID, "President"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(f.store.ballots) != 1 {
		t.Fatalf("expected one ballot row for the duplicated position, got %d", len(f.store.ballots))
	}
	if f.store.ballots[0].IsAbstention {
		t.Fatalf("expected the selection to win over the abstention")
	}
}

func TestSubmitSkipsUnknownPositions(t *testing.T) {
	f := newVoteFixture(t, 1)

	_, err := f.votes.Submit(context.Background(), SubmitRequest{
		VoterID:     "VOTER001",
		Selections:  []Selection{{PositionID: "missing-position", CandidateID: f.alice.ID}},
		Abstentions: []string{"No Such Office", f.secretary.ID},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(f.store.ballots) != 1 {
		t.Fatalf("expected only the resolvable abstention, got %d rows", len(f.store.ballots))
	}
	if !f.store.ballots[0].IsAbstention || f.store.ballots[0].Position != "Secretary" {
		t.Fatalf("unexpected ballot: %+v", f.store.ballots[0])
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newVoteFixture(t, 1)
	ctx := context.Background()

	var vErr *ValidationError
	if _, err := f.votes.Submit(ctx, SubmitRequest{}); !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for missing voterId, got %v", err)
	}
	if _, err := f.votes.Submit(ctx, SubmitRequest{VoterID: "GHOST"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown voter, got %v", err)
	}
}

func TestSubmitWithoutCurrentElection(t *testing.T) {
	f := newVoteFixture(t, 1)
	ctx := context.Background()

	e := f.election
	e.IsCurrent = false
	f.store.UpdateElection(ctx, e)

	if _, err := f.votes.Submit(ctx, SubmitRequest{VoterID: "VOTER001"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found without a current election, got %v", err)
	}
	voter, _ := f.store.GetVoterByVoterID(ctx, "VOTER001")
	if voter.VoteCount != 0 || voter.HasVoted {
		t.Fatalf("expected voter untouched after failure, got %+v", voter)
	}
}

func TestSubmitSwallowsActivityLogFailure(t *testing.T) {
	f := newVoteFixture(t, 1)
	f.store.logErr = errors.New("log store down")

	result, err := f.votes.Submit(context.Background(), SubmitRequest{
		VoterID:    "VOTER001",
		Selections: []Selection{{PositionID: f.president.ID, CandidateID: f.alice.ID}},
	})
	if err != nil {
		t.Fatalf("expected vote to succeed despite log failure, got %v", err)
	}
	if result.Token == "" {
		t.Fatalf("expected receipt token")
	}
}

func TestSubmitConcurrentSameVoter(t *testing.T) {
	f := newVoteFixture(t, 1)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.votes.Submit(context.Background(), SubmitRequest{
				VoterID:    "VOTER001",
				Selections: []Selection{{PositionID: f.president.ID, CandidateID: f.alice.ID}},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var budgetErr *BudgetExceededError
		if !errors.As(err, &budgetErr) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one winning submission, got %d", succeeded)
	}
	voter, _ := f.store.GetVoterByVoterID(context.Background(), "VOTER001")
	if voter.VoteCount != 1 {
		t.Fatalf("expected vote count capped at 1, got %d", voter.VoteCount)
	}
}

func TestMultipleVotingSessions(t *testing.T) {
	f := newVoteFixture(t, 2)
	ctx := context.Background()

	first, err := f.votes.Submit(ctx, SubmitRequest{
		VoterID:    "VOTER001",
		Selections: []Selection{{PositionID: f.president.ID, CandidateID: f.alice.ID}},
	})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if first.VotesRemaining != 1 {
		t.Fatalf("expected one vote remaining, got %d", first.VotesRemaining)
	}

	second, err := f.votes.Submit(ctx, SubmitRequest{
		VoterID:    "VOTER001",
		Selections: []Selection{{PositionID: f.president.ID, CandidateID: f.alice.ID}},
	})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.VotesRemaining != 0 {
		t.Fatalf("expected no votes remaining, got %d", second.VotesRemaining)
	}
	if len(second.Tokens) != 2 {
		t.Fatalf("expected two receipts in history, got %d", len(second.Tokens))
	}
	if len(f.store.ballots) != 2 {
		t.Fatalf("expected two ballots across sessions, got %d", len(f.store.ballots))
	}
	if f.store.ballots[0].VotingSession == f.store.ballots[1].VotingSession {
		t.Fatalf("expected distinct voting sessions per submission")
	}
}

func TestValidateVoter(t *testing.T) {
	f := newVoteFixture(t, 1)
	ctx := context.Background()

	eligible, err := f.votes.Validate(ctx, "voter001", f.election.ID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !eligible.Eligible || eligible.Voter.HasVoted {
		t.Fatalf("expected eligible fresh voter, got %+v", eligible)
	}

	wrong, err := f.votes.Validate(ctx, "VOTER001", "00000000-0000-0000-0000-00000000dead")
	if err != nil {
		t.Fatalf("validate wrong election: %v", err)
	}
	if wrong.Eligible || wrong.ErrorCode != ErrCodeWrongElection {
		t.Fatalf("expected WRONG_ELECTION, got %+v", wrong)
	}

	if _, err := f.votes.Submit(ctx, SubmitRequest{
		VoterID:    "VOTER001",
		Selections: []Selection{{PositionID: f.president.ID, CandidateID: f.alice.ID}},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	voted, err := f.votes.Validate(ctx, "VOTER001", f.election.ID)
	if err != nil {
		t.Fatalf("validate after vote: %v", err)
	}
	if voted.Eligible || voted.ErrorCode != ErrCodeAlreadyVoted {
		t.Fatalf("expected ALREADY_VOTED, got %+v", voted)
	}
	if voted.Voter.VoteCount != 1 || len(voted.Voter.Tokens) != 1 {
		t.Fatalf("expected voter summary with token history, got %+v", voted.Voter)
	}

	if _, err := f.votes.Validate(ctx, "GHOST", f.election.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLookupReceipt(t *testing.T) {
	f := newVoteFixture(t, 1)
	ctx := context.Background()

	result, err := f.votes.Submit(ctx, SubmitRequest{
		VoterID:    "VOTER001",
		Selections: []Selection{{PositionID: f.president.ID, CandidateID: f.alice.ID}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	voter, err := f.votes.LookupReceipt(ctx, result.Token)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if voter.VoterID != "VOTER001" {
		t.Fatalf("expected receipt to resolve to the voter, got %+v", voter)
	}
	if _, err := f.votes.LookupReceipt(ctx, "ZZZZZZ"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown token, got %v", err)
	}
}

type fakeReceiptCache struct {
	entries map[string]string
	puts    int
	lookups int
	err     error
}

func (c *fakeReceiptCache) Put(_ context.Context, token, voterID string) error {
	c.puts++
	if c.err != nil {
		return c.err
	}
	if c.entries == nil {
		c.entries = map[string]string{}
	}
	c.entries[token] = voterID
	return nil
}

func (c *fakeReceiptCache) Lookup(_ context.Context, token string) (string, bool, error) {
	c.lookups++
	if c.err != nil {
		return "", false, c.err
	}
	voterID, ok := c.entries[token]
	return voterID, ok, nil
}

func TestLookupReceiptUsesCache(t *testing.T) {
	f := newVoteFixture(t, 1)
	cache := &fakeReceiptCache{}
	f.votes.WithReceipts(cache)
	ctx := context.Background()

	result, err := f.votes.Submit(ctx, SubmitRequest{
		VoterID:    "VOTER001",
		Selections: []Selection{{PositionID: f.president.ID, CandidateID: f.alice.ID}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if cache.puts != 1 {
		t.Fatalf("expected receipt cached on submit, got %d puts", cache.puts)
	}

	voter, err := f.votes.LookupReceipt(ctx, result.Token)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if voter.VoterID != "VOTER001" || cache.lookups != 1 {
		t.Fatalf("expected cache-served lookup, got %+v after %d lookups", voter, cache.lookups)
	}
}

func TestReceiptCacheFailureFallsBack(t *testing.T) {
	f := newVoteFixture(t, 1)
	cache := &fakeReceiptCache{err: errors.New("redis down")}
	f.votes.WithReceipts(cache)
	ctx := context.Background()

	result, err := f.votes.Submit(ctx, SubmitRequest{
		VoterID:    "VOTER001",
		Selections: []Selection{{PositionID: f.president.ID, CandidateID: f.alice.ID}},
	})
	if err != nil {
		t.Fatalf("expected submit to survive cache failure, got %v", err)
	}

	voter, err := f.votes.LookupReceipt(ctx, result.Token)
	if err != nil {
		t.Fatalf("expected database fallback, got %v", err)
	}
	if voter.VoterID != "VOTER001" {
		t.Fatalf("unexpected voter: %+v", voter)
	}
}
