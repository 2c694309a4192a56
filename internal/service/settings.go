package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/schoolvote/server/internal/model"
)

// SettingsSync keeps the settings singleton and the current election
// consistent in both directions: reads are enriched from the election,
// writes push schedule fields back onto it.
type SettingsSync struct {
	store Store
	cache Invalidator
	now   func() time.Time
}

func NewSettingsSync(store Store, cache Invalidator) *SettingsSync {
	if cache == nil {
		cache = noopInvalidator{}
	}
	return &SettingsSync{store: store, cache: cache, now: time.Now}
}

// DefaultSettings is the last-resort settings value, also registered as the
// cache's safe default for the settings key.
func DefaultSettings(now time.Time) model.Settings {
	return model.Settings{
		IsActive:         false,
		ElectionTitle:    "Student Council Election 2025",
		VotingStartDate:  now.Format("2006-01-02"),
		VotingEndDate:    now.AddDate(0, 0, 7).Format("2006-01-02"),
		VotingStartTime:  "08:00",
		VotingEndTime:    "17:00",
		MaxVotesPerVoter: 1,
		SystemName:       "School Election System",
	}
}

// Get returns the settings singleton enriched with the current election's
// schedule. A missing singleton is replaced by defaults and saved in the
// background; a failing election read degrades to the bare settings rather
// than erroring.
func (s *SettingsSync) Get(ctx context.Context) (model.Settings, error) {
	settings, err := s.store.GetSettings(ctx)
	if errors.Is(err, ErrNotFound) {
		settings = DefaultSettings(s.now())
		if _, saveErr := s.store.SaveSettings(ctx, settings); saveErr != nil {
			log.Printf("settings: saving defaults failed: %v", saveErr)
		}
	} else if err != nil {
		return model.Settings{}, err
	}

	election, err := s.store.GetCurrentElection(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("settings: election enrichment skipped: %v", err)
		}
		return settings, nil
	}

	settings.ElectionTitle = orDefault(election.Title, settings.ElectionTitle)
	settings.VotingStartDate = orDefault(election.StartDate, election.Date)
	settings.VotingEndDate = orDefault(election.EndDate, election.Date)
	settings.VotingStartTime = shortTime(orDefault(election.StartTime, defaultStartTime))
	settings.VotingEndTime = shortTime(orDefault(election.EndTime, defaultEndTime))
	settings.IsActive = election.IsActive
	return settings, nil
}

// SettingsPatch is a partial administrative update. Nil fields are left
// untouched.
type SettingsPatch struct {
	IsActive               *bool   `json:"isActive"`
	ElectionTitle          *string `json:"electionTitle"`
	VotingStartDate        *string `json:"votingStartDate"`
	VotingEndDate          *string `json:"votingEndDate"`
	VotingStartTime        *string `json:"votingStartTime"`
	VotingEndTime          *string `json:"votingEndTime"`
	ResultsPublished       *bool   `json:"resultsPublished"`
	AllowVoterRegistration *bool   `json:"allowVoterRegistration"`
	MaxVotesPerVoter       *int    `json:"maxVotesPerVoter"`
	SystemName             *string `json:"systemName"`
	SystemLogo             *string `json:"systemLogo"`
	SchoolName             *string `json:"schoolName"`
	SchoolLogo             *string `json:"schoolLogo"`
}

func (p SettingsPatch) touchesElection() bool {
	return p.IsActive != nil || p.ElectionTitle != nil ||
		p.VotingStartDate != nil || p.VotingEndDate != nil ||
		p.VotingStartTime != nil || p.VotingEndTime != nil
}

// Update applies a settings patch and pushes schedule fields onto the
// current election. Settings and election are persisted together
// atomically; if no election is current, the settings-side update still
// succeeds on its own.
func (s *SettingsSync) Update(ctx context.Context, patch SettingsPatch) (model.Settings, error) {
	settings, err := s.store.GetSettings(ctx)
	if errors.Is(err, ErrNotFound) {
		settings = DefaultSettings(s.now())
	} else if err != nil {
		return model.Settings{}, err
	}

	applyPatch(&settings, patch)

	if !patch.touchesElection() {
		saved, err := s.store.SaveSettings(ctx, settings)
		if err != nil {
			return model.Settings{}, err
		}
		s.cache.Invalidate(CacheKeySettings)
		return saved, nil
	}

	election, err := s.store.GetCurrentElection(ctx)
	if errors.Is(err, ErrNotFound) {
		saved, err := s.store.SaveSettings(ctx, settings)
		if err != nil {
			return model.Settings{}, err
		}
		s.cache.Invalidate(CacheKeySettings)
		s.cache.Invalidate(CacheKeyElectionStatus)
		return saved, nil
	}
	if err != nil {
		return model.Settings{}, err
	}

	if patch.ElectionTitle != nil {
		election.Title = *patch.ElectionTitle
	}
	if patch.VotingStartDate != nil {
		election.StartDate = *patch.VotingStartDate
		election.Date = *patch.VotingStartDate
	}
	if patch.VotingEndDate != nil {
		election.EndDate = *patch.VotingEndDate
	}
	if patch.VotingStartTime != nil {
		election.StartTime = normalizeTime(*patch.VotingStartTime)
	}
	if patch.VotingEndTime != nil {
		election.EndTime = normalizeTime(*patch.VotingEndTime)
	}
	if patch.IsActive != nil {
		election.IsActive = *patch.IsActive
		if election.IsActive {
			election.Status = model.StatusActive
		} else {
			election.Status = model.StatusNotStarted
		}
	}

	// Eager consistency check: if the clock already sits inside the new
	// voting window the election goes active now instead of waiting for the
	// periodic reconcile.
	reconcileAgainstClock(&election, s.now())
	settings.IsActive = election.IsActive

	saved, err := s.store.SaveSettingsWithElection(ctx, settings, election)
	if err != nil {
		return model.Settings{}, err
	}
	s.cache.Invalidate(CacheKeySettings)
	s.cache.Invalidate(CacheKeyElectionStatus)
	return saved, nil
}

func applyPatch(settings *model.Settings, p SettingsPatch) {
	if p.IsActive != nil {
		settings.IsActive = *p.IsActive
	}
	if p.ElectionTitle != nil {
		settings.ElectionTitle = *p.ElectionTitle
	}
	if p.VotingStartDate != nil {
		settings.VotingStartDate = *p.VotingStartDate
	}
	if p.VotingEndDate != nil {
		settings.VotingEndDate = *p.VotingEndDate
	}
	if p.VotingStartTime != nil {
		settings.VotingStartTime = *p.VotingStartTime
	}
	if p.VotingEndTime != nil {
		settings.VotingEndTime = *p.VotingEndTime
	}
	if p.ResultsPublished != nil {
		settings.ResultsPublished = *p.ResultsPublished
	}
	if p.AllowVoterRegistration != nil {
		settings.AllowVoterRegistration = *p.AllowVoterRegistration
	}
	if p.MaxVotesPerVoter != nil {
		settings.MaxVotesPerVoter = *p.MaxVotesPerVoter
	}
	if p.SystemName != nil {
		settings.SystemName = *p.SystemName
	}
	if p.SystemLogo != nil {
		settings.SystemLogo = *p.SystemLogo
	}
	if p.SchoolName != nil {
		settings.SchoolName = *p.SchoolName
	}
	if p.SchoolLogo != nil {
		settings.SchoolLogo = *p.SchoolLogo
	}
}
