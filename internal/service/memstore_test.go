package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/schoolvote/server/internal/model"
)

// memStore is an in-memory Store used to exercise the services without a
// database. Multi-entity operations take the same all-or-nothing shape as
// the SQL implementation.
type memStore struct {
	mu          sync.Mutex
	elections   map[string]*model.Election
	settings    *model.Settings
	positions   map[string]*model.Position
	candidates  map[string]*model.Candidate
	voters      map[string]*model.Voter
	tokens      map[string][]model.VoteToken
	ballots     []model.Ballot
	years       map[string]*model.Year
	classes     map[string]*model.Class
	houses      map[string]*model.House
	logs        []model.ActivityLog
	logErr      error // injected InsertActivityLog failure
}

func newMemStore() *memStore {
	return &memStore{
		elections:  make(map[string]*model.Election),
		positions:  make(map[string]*model.Position),
		candidates: make(map[string]*model.Candidate),
		voters:     make(map[string]*model.Voter),
		tokens:     make(map[string][]model.VoteToken),
		years:      make(map[string]*model.Year),
		classes:    make(map[string]*model.Class),
		houses:     make(map[string]*model.House),
	}
}

func (m *memStore) CreateElection(_ context.Context, e model.Election) (model.Election, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now()
	e.Normalize()
	m.elections[e.ID] = &e
	return e, nil
}

func (m *memStore) GetElection(_ context.Context, id string) (model.Election, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.elections[id]
	if !ok {
		return model.Election{}, ErrNotFound
	}
	return *e, nil
}

func (m *memStore) ListElections(_ context.Context) ([]model.Election, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Election, 0, len(m.elections))
	for _, e := range m.elections {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) CountElections(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.elections), nil
}

func (m *memStore) GetCurrentElection(_ context.Context) (model.Election, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.elections {
		if e.IsCurrent {
			return *e, nil
		}
	}
	return model.Election{}, ErrNotFound
}

func (m *memStore) UpdateElection(_ context.Context, e model.Election) (model.Election, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.elections[e.ID]; !ok {
		return model.Election{}, ErrNotFound
	}
	e.UpdatedAt = time.Now()
	e.Normalize()
	m.elections[e.ID] = &e
	return e, nil
}

func (m *memStore) SetCurrentElection(_ context.Context, id string) (model.Election, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.elections[id]
	if !ok {
		return model.Election{}, ErrNotFound
	}
	wasActive := target.IsActive
	for _, e := range m.elections {
		e.IsCurrent = false
		e.IsActive = false
		e.Normalize()
	}
	target.IsCurrent = true
	target.IsActive = wasActive
	target.Normalize()
	return *target, nil
}

func (m *memStore) DeleteElectionCascade(_ context.Context, id string) (model.DeleteStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.elections[id]; !ok {
		return model.DeleteStats{}, ErrNotFound
	}
	var stats model.DeleteStats
	for vid, v := range m.voters {
		if v.ElectionID == id {
			delete(m.voters, vid)
			delete(m.tokens, vid)
			stats.Voters++
		}
	}
	for cid, c := range m.candidates {
		if c.ElectionID == id {
			delete(m.candidates, cid)
			stats.Candidates++
		}
	}
	for pid, p := range m.positions {
		if p.ElectionID == id {
			delete(m.positions, pid)
			stats.Positions++
		}
	}
	for yid, y := range m.years {
		if y.ElectionID == id {
			delete(m.years, yid)
			stats.Years++
		}
	}
	for cid, c := range m.classes {
		if c.ElectionID == id {
			delete(m.classes, cid)
			stats.Classes++
		}
	}
	for hid, h := range m.houses {
		if h.ElectionID == id {
			delete(m.houses, hid)
			stats.Houses++
		}
	}
	kept := m.ballots[:0]
	for _, b := range m.ballots {
		if b.ElectionID == id {
			stats.Votes++
			continue
		}
		kept = append(kept, b)
	}
	m.ballots = kept
	delete(m.elections, id)
	return stats, nil
}

func (m *memStore) GetSettings(_ context.Context) (model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		return model.Settings{}, ErrNotFound
	}
	return *m.settings, nil
}

func (m *memStore) SaveSettings(_ context.Context, s model.Settings) (model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.UpdatedAt = time.Now()
	m.settings = &s
	return s, nil
}

func (m *memStore) SaveSettingsWithElection(_ context.Context, s model.Settings, e model.Election) (model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.elections[e.ID]; !ok {
		return model.Settings{}, ErrNotFound
	}
	e.UpdatedAt = time.Now()
	e.Normalize()
	m.elections[e.ID] = &e
	s.UpdatedAt = time.Now()
	m.settings = &s
	return s, nil
}

func (m *memStore) CreatePosition(_ context.Context, p model.Position) (model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.positions {
		if existing.ElectionID == p.ElectionID && existing.Title == p.Title {
			return model.Position{}, ErrConflict
		}
	}
	p.ID = uuid.NewString()
	p.CreatedAt = time.Now()
	m.positions[p.ID] = &p
	return p, nil
}

func (m *memStore) GetPosition(_ context.Context, id string) (model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return model.Position{}, ErrNotFound
	}
	return *p, nil
}

func (m *memStore) ListPositions(_ context.Context, electionID string) ([]model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Position
	for _, p := range m.positions {
		if p.ElectionID == electionID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

func (m *memStore) CreateCandidate(_ context.Context, c model.Candidate) (model.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now()
	m.candidates[c.ID] = &c
	return c, nil
}

func (m *memStore) ListCandidates(_ context.Context, electionID string) ([]model.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Candidate
	for _, c := range m.candidates {
		if c.ElectionID == electionID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) ListCandidatesByPosition(_ context.Context, positionID string) ([]model.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Candidate
	for _, c := range m.candidates {
		if c.PositionID == positionID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) CreateVoter(_ context.Context, v model.Voter) (model.Voter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.VoterID = strings.ToUpper(strings.TrimSpace(v.VoterID))
	for _, existing := range m.voters {
		if existing.VoterID == v.VoterID {
			return model.Voter{}, ErrConflict
		}
	}
	v.ID = uuid.NewString()
	v.CreatedAt = time.Now()
	m.voters[v.ID] = &v
	return v, nil
}

func (m *memStore) GetVoterByVoterID(_ context.Context, voterID string) (model.Voter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.voters {
		if v.VoterID == voterID {
			return *v, nil
		}
	}
	return model.Voter{}, ErrNotFound
}

func (m *memStore) FindVoterByToken(_ context.Context, token string) (model.Voter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, list := range m.tokens {
		for _, t := range list {
			if t.Token == token {
				return *m.voters[id], nil
			}
		}
	}
	return model.Voter{}, ErrNotFound
}

func (m *memStore) ListVoterTokens(_ context.Context, voterID string) ([]model.VoteToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.VoteToken(nil), m.tokens[voterID]...), nil
}

func (m *memStore) CountVoters(_ context.Context, electionID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total, voted := 0, 0
	for _, v := range m.voters {
		if v.ElectionID != electionID {
			continue
		}
		total++
		if v.HasVoted {
			voted++
		}
	}
	return total, voted, nil
}

func (m *memStore) RecentVoters(_ context.Context, electionID string, limit int) ([]model.Voter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Voter
	for _, v := range m.voters {
		if v.ElectionID == electionID && v.HasVoted && v.VotedAt != nil {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VotedAt.After(*out[j].VotedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) SubmitBallots(_ context.Context, rec SubmitRecord) (model.Voter, []model.VoteToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	voter, ok := m.voters[rec.VoterID]
	if !ok {
		return model.Voter{}, nil, ErrNotFound
	}
	if voter.VoteCount >= rec.MaxVotes {
		return model.Voter{}, nil, &BudgetExceededError{Count: voter.VoteCount, Limit: rec.MaxVotes}
	}

	for _, b := range rec.Ballots {
		if m.hasBallot(b) {
			continue
		}
		b.ID = uuid.NewString()
		m.ballots = append(m.ballots, b)
	}

	at := rec.At
	voter.VoteCount++
	voter.HasVoted = true
	voter.VotedAt = &at
	voter.VoteToken = rec.Token
	m.tokens[voter.ID] = append(m.tokens[voter.ID], model.VoteToken{Token: rec.Token, Timestamp: at})
	return *voter, append([]model.VoteToken(nil), m.tokens[voter.ID]...), nil
}

func (m *memStore) hasBallot(b model.Ballot) bool {
	for _, existing := range m.ballots {
		if existing.VoterID == b.VoterID && existing.ElectionID == b.ElectionID &&
			existing.PositionID == b.PositionID && existing.VotingSession == b.VotingSession {
			return true
		}
	}
	return false
}

func (m *memStore) CountCandidateVotes(_ context.Context, electionID, candidateID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, b := range m.ballots {
		if b.ElectionID == electionID && b.CandidateID == candidateID && !b.IsAbstention {
			count++
		}
	}
	return count, nil
}

func (m *memStore) CountAbstentions(_ context.Context, electionID, positionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, b := range m.ballots {
		if b.ElectionID == electionID && b.PositionID == positionID && b.IsAbstention {
			count++
		}
	}
	return count, nil
}

func (m *memStore) CreateYear(_ context.Context, y model.Year) (model.Year, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	y.ID = uuid.NewString()
	m.years[y.ID] = &y
	return y, nil
}

func (m *memStore) ListYears(_ context.Context, electionID string) ([]model.Year, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Year
	for _, y := range m.years {
		if y.ElectionID == electionID {
			out = append(out, *y)
		}
	}
	return out, nil
}

func (m *memStore) CreateClass(_ context.Context, c model.Class) (model.Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.NewString()
	m.classes[c.ID] = &c
	return c, nil
}

func (m *memStore) ListClasses(_ context.Context, electionID string) ([]model.Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Class
	for _, c := range m.classes {
		if c.ElectionID == electionID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) CreateHouse(_ context.Context, h model.House) (model.House, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = uuid.NewString()
	m.houses[h.ID] = &h
	return h, nil
}

func (m *memStore) ListHouses(_ context.Context, electionID string) ([]model.House, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.House
	for _, h := range m.houses {
		if h.ElectionID == electionID {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (m *memStore) InsertActivityLog(_ context.Context, entry model.ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logErr != nil {
		return m.logErr
	}
	entry.ID = uuid.NewString()
	m.logs = append(m.logs, entry)
	return nil
}
