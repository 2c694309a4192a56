package model

import "time"

// ElectionStatus is the lifecycle state of an election. It is kept
// consistent with IsActive on every write: active implies IsActive and a
// deactivated election is normalized back to not-started.
type ElectionStatus string

const (
	StatusNotStarted ElectionStatus = "not-started"
	StatusActive     ElectionStatus = "active"
	StatusEnded      ElectionStatus = "ended"
)

type Election struct {
	ID               string
	Title            string
	Date             string
	StartDate        string
	EndDate          string
	StartTime        string
	EndTime          string
	TotalVoters      int
	VotedCount       int
	IsCurrent        bool
	IsActive         bool
	Status           ElectionStatus
	ResultsPublished bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Normalize enforces the isActive/status/isCurrent consistency rules. It is
// applied by the repository on every election write so direct field updates
// cannot persist an inconsistent record.
func (e *Election) Normalize() {
	if !e.IsCurrent && e.IsActive {
		e.IsActive = false
	}
	if e.IsActive && e.Status != StatusActive {
		e.Status = StatusActive
	}
	if !e.IsActive && e.Status == StatusActive {
		e.Status = StatusNotStarted
	}
}

// Settings is a singleton mirroring the current election's public schedule
// plus system-wide configuration.
type Settings struct {
	IsActive               bool
	ElectionTitle          string
	VotingStartDate        string
	VotingEndDate          string
	VotingStartTime        string
	VotingEndTime          string
	ResultsPublished       bool
	AllowVoterRegistration bool
	MaxVotesPerVoter       int
	SystemName             string
	SystemLogo             string
	SchoolName             string
	SchoolLogo             string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type Position struct {
	ID            string
	ElectionID    string
	Title         string
	Description   string
	Priority      int
	Order         int
	MaxCandidates int
	MaxSelections int
	IsActive      bool
	CreatedAt     time.Time
}

// VoterCategory restricts which voters may see a candidate.
type VoterCategory struct {
	Type   string   // all | class | year | house
	Values []string
}

type Candidate struct {
	ID            string
	ElectionID    string
	PositionID    string
	Name          string
	Image         string
	Biography     string
	Year          string
	Class         string
	House         string
	IsActive      bool
	VoterCategory VoterCategory
	CreatedAt     time.Time
}

type Voter struct {
	ID         string
	ElectionID string
	VoterID    string // uppercase-normalized external id
	StudentID  string
	Name       string
	Gender     string
	Class      string
	Year       string
	House      string
	VoteCount  int
	HasVoted   bool
	VotedAt    *time.Time
	VoteToken  string // legacy single-token field
	CreatedAt  time.Time
}

// VoteToken is one entry in a voter's receipt history.
type VoteToken struct {
	Token     string
	Timestamp time.Time
}

// Ballot is one (voter, position) decision within one submission. Position
// is stored both as display title and id because historical data mixes the
// two representations.
type Ballot struct {
	ID            string
	ElectionID    string
	VoterID       string
	Position      string
	PositionID    string
	CandidateID   string // empty when IsAbstention
	IsAbstention  bool
	VotingSession string
	Timestamp     time.Time
}

type Year struct {
	ID         string
	ElectionID string
	Name       string
	Active     bool
}

type Class struct {
	ID         string
	ElectionID string
	Name       string
	Active     bool
}

type House struct {
	ID         string
	ElectionID string
	Name       string
	Color      string
	Active     bool
}

type ActivityLog struct {
	ID        string
	Action    string
	Entity    string
	EntityID  string
	Details   map[string]any
	IPAddress string
	Timestamp time.Time
}

// DeleteStats reports per-collection deletion counts from a cascading
// election delete.
type DeleteStats struct {
	Voters     int `json:"voters"`
	Candidates int `json:"candidates"`
	Positions  int `json:"positions"`
	Years      int `json:"years"`
	Classes    int `json:"classes"`
	Houses     int `json:"houses"`
	Votes      int `json:"votes"`
}
