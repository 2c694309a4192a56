package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/schoolvote/server/internal/model"
)

// Votes is the vote resolution and submission engine. It resolves
// loosely-typed position references, enforces the per-voter vote budget,
// groups the resulting ballot rows under one voting session, and issues the
// receipt token returned to the voter.
type Votes struct {
	store    Store
	receipts ReceiptCache
	now      func() time.Time
	token    func() (string, error)
}

func NewVotes(store Store) *Votes {
	return &Votes{store: store, now: time.Now, token: newReceiptToken}
}

// WithReceipts attaches a receipt token cache consulted before the database
// on lookups. Cache failures are logged and never fail a vote.
func (s *Votes) WithReceipts(receipts ReceiptCache) *Votes {
	s.receipts = receipts
	return s
}

// newReceiptToken produces the short receipt code handed back to a voter:
// three random bytes, hex encoded, uppercased.
func newReceiptToken() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

type Selection struct {
	PositionID  string `json:"positionId"`
	CandidateID string `json:"candidateId"`
}

type SubmitRequest struct {
	VoterID     string      `json:"voterId"`
	Selections  []Selection `json:"selections"`
	Abstentions []string    `json:"abstentions"`
}

type SubmitResult struct {
	Token          string
	VotedAt        time.Time
	VotesRemaining int
	Tokens         []model.VoteToken
}

// PositionRef is a position reference resolved from the mixed id/title
// representations upstream callers send.
type PositionRef struct {
	ID    string
	Title string
}

// positionIndex holds the bidirectional lookup tables built from the current
// election's positions.
type positionIndex struct {
	idToTitle map[string]string
	titleToID map[string]string
}

func buildPositionIndex(positions []model.Position) positionIndex {
	idx := positionIndex{
		idToTitle: make(map[string]string, len(positions)),
		titleToID: make(map[string]string, len(positions)),
	}
	for _, p := range positions {
		idx.idToTitle[p.ID] = p.Title
		idx.titleToID[p.Title] = p.ID
	}
	return idx
}

// resolve accepts either a position id or a position title and returns the
// canonical reference. Unresolvable identifiers are reported, not guessed.
func (idx positionIndex) resolve(ref string) (PositionRef, bool) {
	if id, ok := idx.titleToID[ref]; ok {
		return PositionRef{ID: id, Title: ref}, true
	}
	if title, ok := idx.idToTitle[ref]; ok {
		return PositionRef{ID: ref, Title: title}, true
	}
	return PositionRef{}, false
}

// Submit records one voting session for a voter. Every ballot row produced
// by the call shares a single session id and timestamp; at most one row is
// written per position, selections taking precedence over abstentions. The
// budget check and increment are applied atomically by the store, so a
// failure anywhere before that point leaves the voter record untouched.
func (s *Votes) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if req.VoterID == "" {
		return SubmitResult{}, validationErrorf("voter ID is required")
	}

	voter, err := s.store.GetVoterByVoterID(ctx, strings.ToUpper(strings.TrimSpace(req.VoterID)))
	if err != nil {
		return SubmitResult{}, err
	}

	maxVotes := 1
	if settings, err := s.store.GetSettings(ctx); err == nil && settings.MaxVotesPerVoter > 0 {
		maxVotes = settings.MaxVotesPerVoter
	}
	if voter.VoteCount >= maxVotes {
		return SubmitResult{}, &BudgetExceededError{Count: voter.VoteCount, Limit: maxVotes}
	}

	election, err := s.store.GetCurrentElection(ctx)
	if err != nil {
		return SubmitResult{}, err
	}
	positions, err := s.store.ListPositions(ctx, election.ID)
	if err != nil {
		return SubmitResult{}, err
	}
	idx := buildPositionIndex(positions)

	votedAt := s.now()
	session := uuid.NewString()
	taken := make(map[string]bool) // position titles already consumed this session

	var ballots []model.Ballot
	for _, sel := range req.Selections {
		ref, ok := idx.resolve(sel.PositionID)
		if !ok {
			log.Printf("votes: position %q not found, skipping selection", sel.PositionID)
			continue
		}
		if taken[ref.Title] {
			log.Printf("votes: duplicate selection for position %q, skipping", ref.Title)
			continue
		}
		taken[ref.Title] = true
		ballots = append(ballots, model.Ballot{
			ElectionID:    election.ID,
			VoterID:       voter.ID,
			Position:      ref.Title,
			PositionID:    ref.ID,
			CandidateID:   sel.CandidateID,
			IsAbstention:  false,
			VotingSession: session,
			Timestamp:     votedAt,
		})
	}

	for _, raw := range req.Abstentions {
		ref, ok := idx.resolve(raw)
		if !ok {
			// Last resort: a direct lookup, in case the position was added
			// after the index was built.
			position, err := s.store.GetPosition(ctx, raw)
			if err != nil {
				log.Printf("votes: unknown position identifier %q, skipping abstention", raw)
				continue
			}
			ref = PositionRef{ID: position.ID, Title: position.Title}
		}
		if taken[ref.Title] {
			log.Printf("votes: position %q already voted this session, skipping abstention", ref.Title)
			continue
		}
		taken[ref.Title] = true
		ballots = append(ballots, model.Ballot{
			ElectionID:    election.ID,
			VoterID:       voter.ID,
			Position:      ref.Title,
			PositionID:    ref.ID,
			IsAbstention:  true,
			VotingSession: session,
			Timestamp:     votedAt,
		})
	}

	token, err := s.token()
	if err != nil {
		return SubmitResult{}, err
	}

	updated, tokens, err := s.store.SubmitBallots(ctx, SubmitRecord{
		VoterID:  voter.ID,
		Ballots:  ballots,
		Token:    token,
		At:       votedAt,
		MaxVotes: maxVotes,
	})
	if err != nil {
		return SubmitResult{}, err
	}

	if s.receipts != nil {
		if err := s.receipts.Put(ctx, token, voter.VoterID); err != nil {
			log.Printf("votes: receipt cache write failed: %v", err)
		}
	}

	// Audit logging after the commit must never fail the vote.
	if err := s.store.InsertActivityLog(ctx, model.ActivityLog{
		Action:   "vote:submit",
		Entity:   "voter",
		EntityID: voter.ID,
		Details: map[string]any{
			"voterId":    voter.VoterID,
			"name":       voter.Name,
			"selections": len(req.Selections),
			"positions":  len(ballots),
		},
		Timestamp: votedAt,
	}); err != nil {
		log.Printf("votes: activity log write failed: %v", err)
	}

	return SubmitResult{
		Token:          token,
		VotedAt:        votedAt,
		VotesRemaining: maxVotes - updated.VoteCount,
		Tokens:         tokens,
	}, nil
}

// EligibilityErrorCode distinguishes client-side branches of voter
// validation.
type EligibilityErrorCode string

const (
	ErrCodeWrongElection EligibilityErrorCode = "WRONG_ELECTION"
	ErrCodeAlreadyVoted  EligibilityErrorCode = "ALREADY_VOTED"
)

type VoterSummary struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	VoterID   string            `json:"voterId"`
	VotedAt   *time.Time        `json:"votedAt"`
	VoteToken string            `json:"voteToken"`
	VoteCount int               `json:"voteCount"`
	MaxVotes  int               `json:"maxVotes"`
	HasVoted  bool              `json:"hasVoted"`
	Tokens    []model.VoteToken `json:"voteTokens,omitempty"`
}

type Eligibility struct {
	Eligible  bool
	ErrorCode EligibilityErrorCode
	Message   string
	Voter     VoterSummary
}

// Validate checks a voter's eligibility ahead of submission: the voter must
// exist, belong to the given election, and still have budget left.
func (s *Votes) Validate(ctx context.Context, voterID, currentElectionID string) (Eligibility, error) {
	if voterID == "" {
		return Eligibility{}, validationErrorf("voter ID is required")
	}
	voter, err := s.store.GetVoterByVoterID(ctx, strings.ToUpper(strings.TrimSpace(voterID)))
	if err != nil {
		return Eligibility{}, err
	}

	maxVotes := 1
	if settings, err := s.store.GetSettings(ctx); err == nil && settings.MaxVotesPerVoter > 0 {
		maxVotes = settings.MaxVotesPerVoter
	}

	if currentElectionID != "" && voter.ElectionID != currentElectionID {
		return Eligibility{
			Eligible:  false,
			ErrorCode: ErrCodeWrongElection,
			Message:   "This voter ID is not registered for the current election",
		}, nil
	}

	summary := VoterSummary{
		ID:        voter.ID,
		Name:      voter.Name,
		VoterID:   voter.VoterID,
		VotedAt:   voter.VotedAt,
		VoteToken: voter.VoteToken,
		VoteCount: voter.VoteCount,
		MaxVotes:  maxVotes,
		HasVoted:  voter.VoteCount > 0,
	}

	if voter.VoteCount >= maxVotes {
		tokens, err := s.store.ListVoterTokens(ctx, voter.ID)
		if err != nil {
			log.Printf("votes: token history lookup failed: %v", err)
		}
		summary.Tokens = tokens
		return Eligibility{
			Eligible:  false,
			ErrorCode: ErrCodeAlreadyVoted,
			Message:   (&BudgetExceededError{Count: voter.VoteCount, Limit: maxVotes}).Error(),
			Voter:     summary,
		}, nil
	}

	return Eligibility{Eligible: true, Message: "Voter validated successfully", Voter: summary}, nil
}

// LookupReceipt resolves a receipt token back to the voter who received it,
// trying the receipt cache before the token table.
func (s *Votes) LookupReceipt(ctx context.Context, token string) (model.Voter, error) {
	if token == "" {
		return model.Voter{}, validationErrorf("receipt token is required")
	}
	token = strings.ToUpper(strings.TrimSpace(token))

	if s.receipts != nil {
		voterID, ok, err := s.receipts.Lookup(ctx, token)
		if err != nil {
			log.Printf("votes: receipt cache lookup failed: %v", err)
		} else if ok {
			if voter, err := s.store.GetVoterByVoterID(ctx, voterID); err == nil {
				return voter, nil
			}
		}
	}

	voter, err := s.store.FindVoterByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return model.Voter{}, err
	}
	return voter, err
}
