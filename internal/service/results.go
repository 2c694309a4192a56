package service

import (
	"context"
	"math"

	"github.com/schoolvote/server/internal/model"
)

// Results tallies per-position, per-candidate vote counts and abstentions
// from the ballot store.
type Results struct {
	store Store
}

func NewResults(store Store) *Results {
	return &Results{store: store}
}

// CandidateView and PositionView are the wire shapes for result payloads.
type CandidateView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
	Year  string `json:"year,omitempty"`
	Class string `json:"class,omitempty"`
	House string `json:"house,omitempty"`
}

type PositionView struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Priority int    `json:"priority"`
}

type CandidateResult struct {
	Candidate  CandidateView `json:"candidate"`
	VoteCount  int           `json:"voteCount"`
	Percentage float64       `json:"percentage"`
}

type AbstentionResult struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type PositionResult struct {
	Position    PositionView      `json:"position"`
	Candidates  []CandidateResult `json:"candidates"`
	TotalVotes  int               `json:"totalVotes"`
	Abstentions AbstentionResult  `json:"abstentions"`
}

type VoterTurnout struct {
	Total      int     `json:"total"`
	Voted      int     `json:"voted"`
	NotVoted   int     `json:"notVoted"`
	Percentage float64 `json:"percentage"`
}

type ElectionResults struct {
	Results []PositionResult `json:"results"`
	Stats   VoterTurnout     `json:"stats"`
}

// ForElection computes results for the given election, or for the current
// election when electionID is empty.
func (s *Results) ForElection(ctx context.Context, electionID string) (ElectionResults, error) {
	var (
		election model.Election
		err      error
	)
	if electionID != "" {
		election, err = s.store.GetElection(ctx, electionID)
	} else {
		election, err = s.store.GetCurrentElection(ctx)
	}
	if err != nil {
		return ElectionResults{}, err
	}

	positions, err := s.store.ListPositions(ctx, election.ID)
	if err != nil {
		return ElectionResults{}, err
	}

	results := make([]PositionResult, 0, len(positions))
	for _, position := range positions {
		candidates, err := s.store.ListCandidatesByPosition(ctx, position.ID)
		if err != nil {
			return ElectionResults{}, err
		}

		candidateResults := make([]CandidateResult, 0, len(candidates))
		candidateTotal := 0
		for _, candidate := range candidates {
			count, err := s.store.CountCandidateVotes(ctx, election.ID, candidate.ID)
			if err != nil {
				return ElectionResults{}, err
			}
			candidateTotal += count
			candidateResults = append(candidateResults, CandidateResult{
				Candidate: CandidateView{
					ID:    candidate.ID,
					Name:  candidate.Name,
					Image: candidate.Image,
					Year:  candidate.Year,
					Class: candidate.Class,
					House: candidate.House,
				},
				VoteCount: count,
			})
		}

		abstentions, err := s.store.CountAbstentions(ctx, election.ID, position.ID)
		if err != nil {
			return ElectionResults{}, err
		}

		// Percentages are over all decisions for the position, abstentions
		// included.
		totalVotes := candidateTotal + abstentions
		for i := range candidateResults {
			candidateResults[i].Percentage = percentage(candidateResults[i].VoteCount, totalVotes)
		}

		results = append(results, PositionResult{
			Position:   PositionView{ID: position.ID, Title: position.Title, Priority: position.Priority},
			Candidates: candidateResults,
			TotalVotes: totalVotes,
			Abstentions: AbstentionResult{
				Count:      abstentions,
				Percentage: percentage(abstentions, totalVotes),
			},
		})
	}

	total, voted, err := s.store.CountVoters(ctx, election.ID)
	if err != nil {
		return ElectionResults{}, err
	}
	stats := VoterTurnout{
		Total:      total,
		Voted:      voted,
		NotVoted:   total - voted,
		Percentage: percentage(voted, total),
	}

	return ElectionResults{Results: results, Stats: stats}, nil
}

// percentage returns part/whole as a percentage rounded to one decimal
// place, 0 when the denominator is 0.
func percentage(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*1000) / 10
}
