package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/schoolvote/server/internal/model"
)

// Cache keys owned by the election and settings read paths.
const (
	CacheKeyElectionStatus = "electionStatus"
	CacheKeySettings       = "settings"
)

const (
	defaultStartTime = "08:00:00"
	defaultEndTime   = "17:00:00"
)

// Elections owns the current-election invariant: at most one election is
// current, and only the current election may be active.
type Elections struct {
	store Store
	cache Invalidator
	now   func() time.Time
}

func NewElections(store Store, cache Invalidator) *Elections {
	if cache == nil {
		cache = noopInvalidator{}
	}
	return &Elections{store: store, cache: cache, now: time.Now}
}

type CreateElectionInput struct {
	Title     string `json:"title"`
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

func (s *Elections) Create(ctx context.Context, in CreateElectionInput) (model.Election, error) {
	if in.Title == "" || in.Date == "" || in.StartTime == "" || in.EndTime == "" {
		return model.Election{}, validationErrorf("please provide all required fields")
	}
	date := normalizeDate(in.Date)
	e := model.Election{
		Title:     in.Title,
		Date:      date,
		StartDate: date,
		EndDate:   date,
		StartTime: normalizeTime(in.StartTime),
		EndTime:   normalizeTime(in.EndTime),
		Status:    model.StatusNotStarted,
	}
	return s.store.CreateElection(ctx, e)
}

func (s *Elections) List(ctx context.Context) ([]model.Election, error) {
	return s.store.ListElections(ctx)
}

func (s *Elections) Current(ctx context.Context) (model.Election, error) {
	return s.store.GetCurrentElection(ctx)
}

// SeedDefault creates a current default election once, only while the
// elections collection is empty. The bool reports whether a seed happened.
func (s *Elections) SeedDefault(ctx context.Context) (model.Election, bool, error) {
	count, err := s.store.CountElections(ctx)
	if err != nil {
		return model.Election{}, false, err
	}
	if count > 0 {
		return model.Election{}, false, nil
	}
	e := model.Election{
		Title:     "Student Council Election 2025",
		Date:      "2025-05-15",
		StartDate: "2025-05-15",
		EndDate:   "2025-05-15",
		StartTime: defaultStartTime,
		EndTime:   defaultEndTime,
		IsCurrent: true,
		Status:    model.StatusNotStarted,
	}
	created, err := s.store.CreateElection(ctx, e)
	if err != nil {
		return model.Election{}, false, err
	}
	return created, true, nil
}

// SetCurrent promotes one election to current. The store clears isCurrent
// and isActive on every election first and restores the target's previous
// isActive value, so no interleaving leaves two current elections. Settings
// are synchronized with the newly current election afterwards.
func (s *Elections) SetCurrent(ctx context.Context, id string) (model.Election, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Election{}, validationErrorf("invalid election ID")
	}
	election, err := s.store.SetCurrentElection(ctx, id)
	if err != nil {
		return model.Election{}, err
	}

	if err := s.mirrorToSettings(ctx, election, true); err != nil {
		// The current-election switch already committed; settings catch up on
		// the next synchronizing write.
		log.Printf("elections: settings sync after setCurrent failed: %v", err)
	}

	s.cache.Invalidate(CacheKeyElectionStatus)
	s.cache.Invalidate(CacheKeySettings)
	return election, nil
}

// ToggleActive flips isActive on the current election and derives status
// from the new value. The change is mirrored into settings.
func (s *Elections) ToggleActive(ctx context.Context) (model.Election, error) {
	election, err := s.store.GetCurrentElection(ctx)
	if err != nil {
		return model.Election{}, err
	}

	election.IsActive = !election.IsActive
	if election.IsActive {
		election.Status = model.StatusActive
	} else {
		election.Status = model.StatusNotStarted
	}
	election, err = s.store.UpdateElection(ctx, election)
	if err != nil {
		return model.Election{}, err
	}

	if err := s.mirrorToSettings(ctx, election, false); err != nil {
		log.Printf("elections: settings sync after toggle failed: %v", err)
	}

	s.cache.Invalidate(CacheKeyElectionStatus)
	s.cache.Invalidate(CacheKeySettings)
	return election, nil
}

// Delete removes an election and every dependent entity keyed by it,
// returning per-collection deletion counts.
func (s *Elections) Delete(ctx context.Context, id string) (model.DeleteStats, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.DeleteStats{}, validationErrorf("invalid election ID")
	}
	stats, err := s.store.DeleteElectionCascade(ctx, id)
	if err != nil {
		return model.DeleteStats{}, err
	}
	s.cache.Invalidate(CacheKeyElectionStatus)
	s.cache.Invalidate(CacheKeySettings)
	return stats, nil
}

// PublishResults sets resultsPublished on the current election.
func (s *Elections) PublishResults(ctx context.Context, published bool) (model.Election, error) {
	election, err := s.store.GetCurrentElection(ctx)
	if err != nil {
		return model.Election{}, err
	}
	election.ResultsPublished = published
	election, err = s.store.UpdateElection(ctx, election)
	if err != nil {
		return model.Election{}, err
	}
	s.cache.Invalidate(CacheKeyElectionStatus)
	return election, nil
}

// StatusPayload is the public shape served by GET /elections/status.
type StatusPayload struct {
	Title            string `json:"title,omitempty"`
	IsActive         bool   `json:"isActive"`
	Status           string `json:"status,omitempty"`
	Message          string `json:"message,omitempty"`
	StartDate        string `json:"startDate,omitempty"`
	EndDate          string `json:"endDate,omitempty"`
	StartTime        string `json:"startTime,omitempty"`
	EndTime          string `json:"endTime,omitempty"`
	ResultsPublished bool   `json:"resultsPublished"`
	VotingStartDate  string `json:"votingStartDate"`
	VotingEndDate    string `json:"votingEndDate"`
	VotingStartTime  string `json:"votingStartTime"`
	VotingEndTime    string `json:"votingEndTime"`
}

// Status reports the current election's public schedule. When no election is
// current it returns the default 08:00-17:00 payload rather than an error.
func (s *Elections) Status(ctx context.Context) (StatusPayload, error) {
	election, err := s.store.GetCurrentElection(ctx)
	if errors.Is(err, ErrNotFound) {
		return DefaultStatusPayload(s.now()), nil
	}
	if err != nil {
		return StatusPayload{}, err
	}
	return statusFromElection(election), nil
}

func statusFromElection(e model.Election) StatusPayload {
	return StatusPayload{
		Title:            e.Title,
		IsActive:         e.IsActive,
		Status:           string(e.Status),
		StartDate:        e.StartDate,
		EndDate:          e.EndDate,
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		ResultsPublished: e.ResultsPublished,
		VotingStartDate:  orDefault(e.StartDate, e.Date),
		VotingEndDate:    orDefault(e.EndDate, e.Date),
		VotingStartTime:  shortTime(e.StartTime),
		VotingEndTime:    shortTime(e.EndTime),
	}
}

// DefaultStatusPayload is the no-current-election fallback, also used as the
// cache's safe default for the status key.
func DefaultStatusPayload(now time.Time) StatusPayload {
	today := now.Format("2006-01-02")
	return StatusPayload{
		IsActive:        false,
		Message:         "No active election",
		VotingStartDate: today,
		VotingEndDate:   today,
		VotingStartTime: "08:00",
		VotingEndTime:   "17:00",
	}
}

// TurnoutStats is the per-election voter participation summary.
type TurnoutStats struct {
	TotalVoters          int           `json:"totalVoters"`
	VotedCount           int           `json:"votedCount"`
	RemainingVoters      int           `json:"remainingVoters"`
	CompletionPercentage int           `json:"completionPercentage"`
	RecentVoters         []RecentVoter `json:"recentVoters"`
	ElectionID           string        `json:"electionId,omitempty"`
	ElectionTitle        string        `json:"electionTitle,omitempty"`
	Message              string        `json:"message,omitempty"`
}

type RecentVoter struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	VoterID string     `json:"voterId"`
	VotedAt *time.Time `json:"votedAt"`
}

// Stats computes turnout for the current election. With no current election
// it returns the empty structure, not an error.
func (s *Elections) Stats(ctx context.Context) (TurnoutStats, error) {
	election, err := s.store.GetCurrentElection(ctx)
	if errors.Is(err, ErrNotFound) {
		return TurnoutStats{RecentVoters: []RecentVoter{}, Message: "No active election found"}, nil
	}
	if err != nil {
		return TurnoutStats{}, err
	}

	total, voted, err := s.store.CountVoters(ctx, election.ID)
	if err != nil {
		return TurnoutStats{}, err
	}
	recent, err := s.store.RecentVoters(ctx, election.ID, 3)
	if err != nil {
		return TurnoutStats{}, err
	}

	stats := TurnoutStats{
		TotalVoters:     total,
		VotedCount:      voted,
		RemainingVoters: total - voted,
		RecentVoters:    make([]RecentVoter, 0, len(recent)),
		ElectionID:      election.ID,
		ElectionTitle:   election.Title,
	}
	if total > 0 {
		stats.CompletionPercentage = int(float64(voted)/float64(total)*100 + 0.5)
	}
	for _, v := range recent {
		stats.RecentVoters = append(stats.RecentVoters, RecentVoter{
			ID:      v.ID,
			Name:    v.Name,
			VoterID: v.VoterID,
			VotedAt: v.VotedAt,
		})
	}
	return stats, nil
}

// ReconcileSchedule is the single idempotent wall-clock transition: it
// activates the current election when now falls inside its voting window and
// ends it once the window has passed. It is invoked from the settings write
// path and from the periodic job; both observe the same behavior. The bool
// reports whether anything changed.
func (s *Elections) ReconcileSchedule(ctx context.Context, now time.Time) (model.Election, bool, error) {
	election, err := s.store.GetCurrentElection(ctx)
	if err != nil {
		return model.Election{}, false, err
	}

	if !reconcileAgainstClock(&election, now) {
		return election, false, nil
	}

	election, err = s.store.UpdateElection(ctx, election)
	if err != nil {
		return model.Election{}, false, err
	}
	s.cache.Invalidate(CacheKeyElectionStatus)
	s.cache.Invalidate(CacheKeySettings)
	return election, true, nil
}

// mirrorToSettings copies the election's public schedule into the settings
// singleton. Full sync (setCurrent) copies schedule and title; otherwise only
// the active flag is mirrored.
func (s *Elections) mirrorToSettings(ctx context.Context, e model.Election, full bool) error {
	settings, err := s.store.GetSettings(ctx)
	if errors.Is(err, ErrNotFound) {
		// Settings may not exist before first setup; nothing to mirror onto.
		return nil
	}
	if err != nil {
		return err
	}

	settings.IsActive = e.IsActive
	if full {
		settings.ElectionTitle = e.Title
		settings.VotingStartDate = orDefault(e.StartDate, e.Date)
		settings.VotingEndDate = orDefault(e.EndDate, e.Date)
		settings.VotingStartTime = shortTime(e.StartTime)
		settings.VotingEndTime = shortTime(e.EndTime)
	}
	_, err = s.store.SaveSettings(ctx, settings)
	return err
}

// reconcileAgainstClock folds the wall clock into the election's state:
// inside the voting window the election is active, past it the election is
// ended. Idempotent; reports whether the record changed.
func reconcileAgainstClock(e *model.Election, now time.Time) bool {
	start, end, ok := votingWindow(*e)
	if !ok {
		return false
	}
	switch {
	case !now.Before(start) && now.Before(end):
		if !e.IsActive {
			e.IsActive = true
			e.Status = model.StatusActive
			return true
		}
	case !now.Before(end):
		if e.Status != model.StatusEnded || e.IsActive {
			e.IsActive = false
			e.Status = model.StatusEnded
			return true
		}
	}
	return false
}

// votingWindow derives the [start, end) wall-clock window from the stored
// date and time strings. Records with unparseable schedules opt out of
// schedule-driven transitions.
func votingWindow(e model.Election) (start, end time.Time, ok bool) {
	const layout = "2006-01-02T15:04:05"
	startDate := orDefault(e.StartDate, e.Date)
	endDate := orDefault(e.EndDate, e.Date)

	start, err := time.ParseInLocation(layout, startDate+"T"+normalizeTime(orDefault(e.StartTime, defaultStartTime)), time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err = time.ParseInLocation(layout, endDate+"T"+normalizeTime(orDefault(e.EndTime, defaultEndTime)), time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// normalizeTime pads HH:MM to the canonical HH:MM:SS representation.
func normalizeTime(t string) string {
	if len(t) == 5 {
		return t + ":00"
	}
	return t
}

// shortTime trims HH:MM:SS to the HH:MM shape used in public payloads.
func shortTime(t string) string {
	if len(t) >= 5 {
		return t[:5]
	}
	return t
}

func normalizeDate(d string) string {
	if parsed, err := time.Parse("2006-01-02", d); err == nil {
		return parsed.Format("2006-01-02")
	}
	if parsed, err := time.Parse(time.RFC3339, d); err == nil {
		return parsed.Format("2006-01-02")
	}
	return d
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
