package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schoolvote/server/internal/auth"
	"github.com/schoolvote/server/internal/breaker"
	"github.com/schoolvote/server/internal/cache"
	"github.com/schoolvote/server/internal/config"
	"github.com/schoolvote/server/internal/model"
	"github.com/schoolvote/server/internal/service"
)

// PermElectionsEdit gates every administrative election mutation.
const PermElectionsEdit = "elections:edit"

type Server struct {
	cfg       config.Config
	store     service.Store
	cache     *cache.Cache
	elections *service.Elections
	settings  *service.SettingsSync
	votes     *service.Votes
	results   *service.Results

	statusBreaker   *breaker.Breaker[service.StatusPayload]
	settingsBreaker *breaker.Breaker[model.Settings]
}

func NewServer(cfg config.Config, store service.Store, c *cache.Cache, receipts service.ReceiptCache) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		cache:     c,
		elections: service.NewElections(store, c),
		settings:  service.NewSettingsSync(store, c),
		votes:     service.NewVotes(store).WithReceipts(receipts),
		results:   service.NewResults(store),
	}

	opts := breaker.Options{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout,
	}
	// Breaker fallbacks prefer a stale cache entry over the hardcoded
	// defaults, so readers keep seeing the last known schedule during an
	// outage.
	s.statusBreaker = breaker.New("election_status", opts, func(context.Context) service.StatusPayload {
		if value, _, ok := c.Lookup(service.CacheKeyElectionStatus, true); ok {
			if payload, ok := value.(service.StatusPayload); ok {
				return payload
			}
		}
		return service.DefaultStatusPayload(time.Now())
	})
	s.settingsBreaker = breaker.New("settings", opts, func(context.Context) model.Settings {
		if value, _, ok := c.Lookup(service.CacheKeySettings, true); ok {
			if settings, ok := value.(model.Settings); ok {
				return settings
			}
		}
		return service.DefaultSettings(time.Now())
	})
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/elections", func(r chi.Router) {
		r.Get("/", s.handleListElections)
		r.With(s.authMiddleware, s.requireElectionsEdit).Post("/", s.handleCreateElection)
		r.Get("/current", s.handleCurrentElection)
		r.Get("/status", s.handleElectionStatus)
		r.Get("/stats", s.handleElectionStats)
		r.With(s.authMiddleware, s.requireElectionsEdit).Post("/default", s.handleSeedDefault)
		r.With(s.authMiddleware, s.requireElectionsEdit).Put("/results-publication", s.handleResultsPublication)
		r.With(s.authMiddleware, s.requireElectionsEdit).Put("/{electionId}/current", s.handleSetCurrent)
		r.With(s.authMiddleware, s.requireElectionsEdit).Delete("/{electionId}", s.handleDeleteElection)
	})
	r.With(s.authMiddleware, s.requireElectionsEdit).Post("/election/toggle", s.handleToggleActive)

	r.Get("/settings", s.handleGetSettings)
	r.With(s.authMiddleware, s.requireElectionsEdit).Put("/settings", s.handleUpdateSettings)

	r.Post("/votes/submit", s.handleSubmitVote)
	r.Get("/votes/receipt/{token}", s.handleReceipt)
	r.Post("/voters/validate", s.handleValidateVoter)

	r.Get("/results", s.handleResults)

	r.Route("/positions", func(r chi.Router) {
		r.Get("/", s.handleListPositions)
		r.With(s.authMiddleware, s.requireElectionsEdit).Post("/", s.handleCreatePosition)
	})
	r.Route("/candidates", func(r chi.Router) {
		r.Get("/", s.handleListCandidates)
		r.With(s.authMiddleware, s.requireElectionsEdit).Post("/", s.handleCreateCandidate)
	})
	r.With(s.authMiddleware, s.requireElectionsEdit).Post("/voters", s.handleCreateVoter)

	for _, group := range []struct {
		path   string
		list   http.HandlerFunc
		create http.HandlerFunc
	}{
		{"/years", s.handleListYears, s.handleCreateYear},
		{"/classes", s.handleListClasses, s.handleCreateClass},
		{"/houses", s.handleListHouses, s.handleCreateHouse},
	} {
		group := group
		r.Route(group.path, func(r chi.Router) {
			r.Get("/", group.list)
			r.With(s.authMiddleware, s.requireElectionsEdit).Post("/", group.create)
		})
	}

	return r
}

type electionResponse struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Date             string    `json:"date"`
	StartDate        string    `json:"startDate"`
	EndDate          string    `json:"endDate"`
	StartTime        string    `json:"startTime"`
	EndTime          string    `json:"endTime"`
	IsCurrent        bool      `json:"isCurrent"`
	IsActive         bool      `json:"isActive"`
	Status           string    `json:"status"`
	ResultsPublished bool      `json:"resultsPublished"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func mapElection(e model.Election) electionResponse {
	return electionResponse{
		ID:               e.ID,
		Title:            e.Title,
		Date:             e.Date,
		StartDate:        e.StartDate,
		EndDate:          e.EndDate,
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		IsCurrent:        e.IsCurrent,
		IsActive:         e.IsActive,
		Status:           string(e.Status),
		ResultsPublished: e.ResultsPublished,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func (s *Server) handleListElections(w http.ResponseWriter, r *http.Request) {
	elections, err := s.elections.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resp := make([]electionResponse, 0, len(elections))
	for _, e := range elections {
		resp = append(resp, mapElection(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateElection(w http.ResponseWriter, r *http.Request) {
	var req service.CreateElectionInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	election, err := s.elections.Create(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapElection(election))
}

func (s *Server) handleCurrentElection(w http.ResponseWriter, r *http.Request) {
	election, err := s.elections.Current(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapElection(election))
}

// handleElectionStatus serves the public election status: fresh cache entry
// first, then the database behind the circuit breaker, with the fallback
// degrading to a stale entry or the default payload.
func (s *Server) handleElectionStatus(w http.ResponseWriter, r *http.Request) {
	if !nocache(r) {
		if value, stale, ok := s.cache.Lookup(service.CacheKeyElectionStatus, false); ok && !stale {
			if payload, ok := value.(service.StatusPayload); ok {
				w.Header().Set("X-Cache", "hit")
				writeJSON(w, http.StatusOK, payload)
				return
			}
		}
	}

	payload := s.statusBreaker.Execute(r.Context(), func(ctx context.Context) (service.StatusPayload, error) {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
		p, err := s.elections.Status(ctx)
		if err != nil {
			return service.StatusPayload{}, err
		}
		s.cache.Set(service.CacheKeyElectionStatus, p, cache.SetOptions{TTL: s.cfg.StatusCacheTTL, Source: "database"})
		return p, nil
	})
	w.Header().Set("X-Cache", "miss")
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleElectionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.elections.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSeedDefault(w http.ResponseWriter, r *http.Request) {
	election, created, err := s.elections.SeedDefault(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, map[string]string{"message": "elections already exist"})
		return
	}
	writeJSON(w, http.StatusCreated, mapElection(election))
}

func (s *Server) handleSetCurrent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "electionId")
	election, err := s.elections.SetCurrent(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.audit(r, "election:setCurrent", "election", election.ID, map[string]any{"title": election.Title})
	writeJSON(w, http.StatusOK, mapElection(election))
}

func (s *Server) handleToggleActive(w http.ResponseWriter, r *http.Request) {
	election, err := s.elections.ToggleActive(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.audit(r, "election:toggle", "election", election.ID, map[string]any{"isActive": election.IsActive})
	writeJSON(w, http.StatusOK, mapElection(election))
}

func (s *Server) handleDeleteElection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "electionId")
	stats, err := s.elections.Delete(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.audit(r, "election:delete", "election", id, map[string]any{"voters": stats.Voters, "votes": stats.Votes})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Election and all associated data deleted successfully",
		"stats":   stats,
	})
}

type resultsPublicationRequest struct {
	Published bool `json:"published"`
}

func (s *Server) handleResultsPublication(w http.ResponseWriter, r *http.Request) {
	var req resultsPublicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	election, err := s.elections.PublishResults(r.Context(), req.Published)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapElection(election))
}

type settingsResponse struct {
	IsActive               bool   `json:"isActive"`
	ElectionTitle          string `json:"electionTitle"`
	VotingStartDate        string `json:"votingStartDate"`
	VotingEndDate          string `json:"votingEndDate"`
	VotingStartTime        string `json:"votingStartTime"`
	VotingEndTime          string `json:"votingEndTime"`
	ResultsPublished       bool   `json:"resultsPublished"`
	AllowVoterRegistration bool   `json:"allowVoterRegistration"`
	MaxVotesPerVoter       int    `json:"maxVotesPerVoter"`
	SystemName             string `json:"systemName"`
	SystemLogo             string `json:"systemLogo"`
	SchoolName             string `json:"schoolName"`
	SchoolLogo             string `json:"schoolLogo"`
}

func mapSettings(st model.Settings) settingsResponse {
	return settingsResponse{
		IsActive:               st.IsActive,
		ElectionTitle:          st.ElectionTitle,
		VotingStartDate:        st.VotingStartDate,
		VotingEndDate:          st.VotingEndDate,
		VotingStartTime:        st.VotingStartTime,
		VotingEndTime:          st.VotingEndTime,
		ResultsPublished:       st.ResultsPublished,
		AllowVoterRegistration: st.AllowVoterRegistration,
		MaxVotesPerVoter:       st.MaxVotesPerVoter,
		SystemName:             st.SystemName,
		SystemLogo:             st.SystemLogo,
		SchoolName:             st.SchoolName,
		SchoolLogo:             st.SchoolLogo,
	}
}

// handleGetSettings mirrors the status read path and adds ETag revalidation
// keyed to the cached entry's creation time.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if !nocache(r) {
		if value, stale, ok := s.cache.Lookup(service.CacheKeySettings, false); ok && !stale {
			if settings, ok := value.(model.Settings); ok {
				if createdAt, ok := s.cache.CreatedAt(service.CacheKeySettings); ok {
					etag := settingsETag(createdAt)
					w.Header().Set("ETag", etag)
					if r.Header.Get("If-None-Match") == etag {
						w.WriteHeader(http.StatusNotModified)
						return
					}
				}
				w.Header().Set("X-Settings-Source", "cache")
				writeJSON(w, http.StatusOK, mapSettings(settings))
				return
			}
		}
	}

	settings := s.settingsBreaker.Execute(r.Context(), func(ctx context.Context) (model.Settings, error) {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
		st, err := s.settings.Get(ctx)
		if err != nil {
			return model.Settings{}, err
		}
		s.cache.Set(service.CacheKeySettings, st, cache.SetOptions{TTL: s.cfg.SettingsCacheTTL, Source: "database"})
		return st, nil
	})
	if createdAt, ok := s.cache.CreatedAt(service.CacheKeySettings); ok {
		w.Header().Set("ETag", settingsETag(createdAt))
	}
	source := "database"
	if s.settingsBreaker.State() != breaker.Closed {
		source = "fallback"
	}
	w.Header().Set("X-Settings-Source", source)
	writeJSON(w, http.StatusOK, mapSettings(settings))
}

func settingsETag(createdAt time.Time) string {
	return fmt.Sprintf(`"settings-%d"`, createdAt.UnixNano())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch service.SettingsPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	settings, err := s.settings.Update(r.Context(), patch)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSettings(settings))
}

type submitVoteResponse struct {
	Success        bool             `json:"success"`
	Message        string           `json:"message"`
	VoteToken      string           `json:"voteToken"`
	VotedAt        time.Time        `json:"votedAt"`
	VotesRemaining int              `json:"votesRemaining"`
	VoteTokens     []voteTokenEntry `json:"voteTokens"`
}

type voteTokenEntry struct {
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
}

func mapTokens(tokens []model.VoteToken) []voteTokenEntry {
	out := make([]voteTokenEntry, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, voteTokenEntry{Token: t.Token, Timestamp: t.Timestamp})
	}
	return out
}

func (s *Server) handleSubmitVote(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.votes.Submit(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitVoteResponse{
		Success:        true,
		Message:        "Vote submitted successfully",
		VoteToken:      result.Token,
		VotedAt:        result.VotedAt,
		VotesRemaining: result.VotesRemaining,
		VoteTokens:     mapTokens(result.Tokens),
	})
}

type receiptResponse struct {
	VoterID   string     `json:"voterId"`
	Name      string     `json:"name"`
	HasVoted  bool       `json:"hasVoted"`
	VotedAt   *time.Time `json:"votedAt"`
	VoteToken string     `json:"voteToken"`
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	voter, err := s.votes.LookupReceipt(r.Context(), token)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse{
		VoterID:   voter.VoterID,
		Name:      voter.Name,
		HasVoted:  voter.HasVoted,
		VotedAt:   voter.VotedAt,
		VoteToken: voter.VoteToken,
	})
}

type validateVoterRequest struct {
	VoterID           string `json:"voterId"`
	CurrentElectionID string `json:"currentElectionId"`
}

func (s *Server) handleValidateVoter(w http.ResponseWriter, r *http.Request) {
	var req validateVoterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	currentID := req.CurrentElectionID
	if currentID == "" {
		if election, err := s.elections.Current(r.Context()); err == nil {
			currentID = election.ID
		}
	}

	eligibility, err := s.votes.Validate(r.Context(), req.VoterID, currentID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !eligibility.Eligible {
		// ALREADY_VOTED is not an error to the voter-facing client: it
		// answers 200 with the token history so the receipt can be shown.
		status := http.StatusOK
		if eligibility.ErrorCode == service.ErrCodeWrongElection {
			status = http.StatusForbidden
		}
		writeJSON(w, status, map[string]any{
			"success":   false,
			"message":   eligibility.Message,
			"errorCode": eligibility.ErrorCode,
			"voter":     eligibility.Voter,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": eligibility.Message,
		"voter":   eligibility.Voter,
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	electionID := r.URL.Query().Get("electionId")

	// Unpublished results stay admin-only.
	if election, err := s.elections.Current(r.Context()); err == nil && electionID == "" {
		if !election.ResultsPublished && !s.hasPermission(r, PermElectionsEdit) {
			writeError(w, http.StatusForbidden, "results are not published yet")
			return
		}
	}

	results, err := s.results.ForElection(r.Context(), electionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type createPositionRequest struct {
	ElectionID    string `json:"electionId"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Priority      int    `json:"priority"`
	MaxCandidates int    `json:"maxCandidates"`
	MaxSelections int    `json:"maxSelections"`
}

type positionResponse struct {
	ID            string `json:"id"`
	ElectionID    string `json:"electionId"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Priority      int    `json:"priority"`
	MaxCandidates int    `json:"maxCandidates"`
	MaxSelections int    `json:"maxSelections"`
	IsActive      bool   `json:"isActive"`
}

func mapPosition(p model.Position) positionResponse {
	return positionResponse{
		ID:            p.ID,
		ElectionID:    p.ElectionID,
		Title:         p.Title,
		Description:   p.Description,
		Priority:      p.Priority,
		MaxCandidates: p.MaxCandidates,
		MaxSelections: p.MaxSelections,
		IsActive:      p.IsActive,
	}
}

// electionScope resolves the election an entity request targets: an explicit
// electionId wins, otherwise the current election.
func (s *Server) electionScope(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	election, err := s.store.GetCurrentElection(ctx)
	if err != nil {
		return "", err
	}
	return election.ID, nil
}

func (s *Server) handleCreatePosition(w http.ResponseWriter, r *http.Request) {
	var req createPositionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "position title is required")
		return
	}
	electionID, err := s.electionScope(r.Context(), req.ElectionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	position, err := s.store.CreatePosition(r.Context(), model.Position{
		ElectionID:    electionID,
		Title:         strings.TrimSpace(req.Title),
		Description:   req.Description,
		Priority:      req.Priority,
		MaxCandidates: req.MaxCandidates,
		MaxSelections: req.MaxSelections,
		IsActive:      true,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapPosition(position))
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	electionID, err := s.electionScope(r.Context(), r.URL.Query().Get("electionId"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	positions, err := s.store.ListPositions(r.Context(), electionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resp := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		resp = append(resp, mapPosition(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

type createCandidateRequest struct {
	ElectionID    string   `json:"electionId"`
	PositionID    string   `json:"positionId"`
	Name          string   `json:"name"`
	Image         string   `json:"image"`
	Biography     string   `json:"biography"`
	Year          string   `json:"year"`
	Class         string   `json:"class"`
	House         string   `json:"house"`
	CategoryType  string   `json:"voterCategoryType"`
	CategoryValue []string `json:"voterCategoryValues"`
}

type candidateResponse struct {
	ID         string `json:"id"`
	ElectionID string `json:"electionId"`
	PositionID string `json:"positionId"`
	Name       string `json:"name"`
	Image      string `json:"image"`
	Biography  string `json:"biography"`
	Year       string `json:"year"`
	Class      string `json:"class"`
	House      string `json:"house"`
	IsActive   bool   `json:"isActive"`
}

func mapCandidate(c model.Candidate) candidateResponse {
	return candidateResponse{
		ID:         c.ID,
		ElectionID: c.ElectionID,
		PositionID: c.PositionID,
		Name:       c.Name,
		Image:      c.Image,
		Biography:  c.Biography,
		Year:       c.Year,
		Class:      c.Class,
		House:      c.House,
		IsActive:   c.IsActive,
	}
}

func (s *Server) handleCreateCandidate(w http.ResponseWriter, r *http.Request) {
	var req createCandidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || req.PositionID == "" {
		writeError(w, http.StatusBadRequest, "candidate name and positionId are required")
		return
	}
	electionID, err := s.electionScope(r.Context(), req.ElectionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if _, err := s.store.GetPosition(r.Context(), req.PositionID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	candidate, err := s.store.CreateCandidate(r.Context(), model.Candidate{
		ElectionID: electionID,
		PositionID: req.PositionID,
		Name:       strings.TrimSpace(req.Name),
		Image:      req.Image,
		Biography:  req.Biography,
		Year:       req.Year,
		Class:      req.Class,
		House:      req.House,
		IsActive:   true,
		VoterCategory: model.VoterCategory{
			Type:   req.CategoryType,
			Values: req.CategoryValue,
		},
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapCandidate(candidate))
}

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	if positionID := r.URL.Query().Get("positionId"); positionID != "" {
		candidates, err := s.store.ListCandidatesByPosition(r.Context(), positionID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeCandidates(w, candidates)
		return
	}
	electionID, err := s.electionScope(r.Context(), r.URL.Query().Get("electionId"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	candidates, err := s.store.ListCandidates(r.Context(), electionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeCandidates(w, candidates)
}

func writeCandidates(w http.ResponseWriter, candidates []model.Candidate) {
	resp := make([]candidateResponse, 0, len(candidates))
	for _, c := range candidates {
		resp = append(resp, mapCandidate(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

type createVoterRequest struct {
	ElectionID string `json:"electionId"`
	VoterID    string `json:"voterId"`
	StudentID  string `json:"studentId"`
	Name       string `json:"name"`
	Gender     string `json:"gender"`
	Class      string `json:"class"`
	Year       string `json:"year"`
	House      string `json:"house"`
}

func (s *Server) handleCreateVoter(w http.ResponseWriter, r *http.Request) {
	var req createVoterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.VoterID) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "voterId and name are required")
		return
	}
	electionID, err := s.electionScope(r.Context(), req.ElectionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	voter, err := s.store.CreateVoter(r.Context(), model.Voter{
		ElectionID: electionID,
		VoterID:    req.VoterID,
		StudentID:  req.StudentID,
		Name:       strings.TrimSpace(req.Name),
		Gender:     req.Gender,
		Class:      req.Class,
		Year:       req.Year,
		House:      req.House,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      voter.ID,
		"voterId": voter.VoterID,
		"name":    voter.Name,
	})
}

type namedEntityRequest struct {
	ElectionID string `json:"electionId"`
	Name       string `json:"name"`
	Color      string `json:"color"`
}

func (s *Server) handleCreateYear(w http.ResponseWriter, r *http.Request) {
	req, electionID, ok := s.decodeNamedEntity(w, r)
	if !ok {
		return
	}
	year, err := s.store.CreateYear(r.Context(), model.Year{ElectionID: electionID, Name: req.Name, Active: true})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, year)
}

func (s *Server) handleListYears(w http.ResponseWriter, r *http.Request) {
	electionID, err := s.electionScope(r.Context(), r.URL.Query().Get("electionId"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	years, err := s.store.ListYears(r.Context(), electionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, years)
}

func (s *Server) handleCreateClass(w http.ResponseWriter, r *http.Request) {
	req, electionID, ok := s.decodeNamedEntity(w, r)
	if !ok {
		return
	}
	class, err := s.store.CreateClass(r.Context(), model.Class{ElectionID: electionID, Name: req.Name, Active: true})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, class)
}

func (s *Server) handleListClasses(w http.ResponseWriter, r *http.Request) {
	electionID, err := s.electionScope(r.Context(), r.URL.Query().Get("electionId"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	classes, err := s.store.ListClasses(r.Context(), electionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, classes)
}

func (s *Server) handleCreateHouse(w http.ResponseWriter, r *http.Request) {
	req, electionID, ok := s.decodeNamedEntity(w, r)
	if !ok {
		return
	}
	house, err := s.store.CreateHouse(r.Context(), model.House{
		ElectionID: electionID, Name: req.Name, Color: req.Color, Active: true,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, house)
}

func (s *Server) handleListHouses(w http.ResponseWriter, r *http.Request) {
	electionID, err := s.electionScope(r.Context(), r.URL.Query().Get("electionId"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	houses, err := s.store.ListHouses(r.Context(), electionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, houses)
}

func (s *Server) decodeNamedEntity(w http.ResponseWriter, r *http.Request) (namedEntityRequest, string, bool) {
	var req namedEntityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, "", false
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return req, "", false
	}
	electionID, err := s.electionScope(r.Context(), req.ElectionID)
	if err != nil {
		s.writeServiceError(w, err)
		return req, "", false
	}
	req.Name = strings.TrimSpace(req.Name)
	return req, electionID, true
}

// audit records an administrative action. Failures are swallowed; auditing
// never blocks the mutation it describes.
func (s *Server) audit(r *http.Request, action, entity, entityID string, details map[string]any) {
	_ = s.store.InsertActivityLog(r.Context(), model.ActivityLog{
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Details:   details,
		IPAddress: clientIP(r),
		Timestamp: time.Now(),
	})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var vErr *service.ValidationError
	if errors.As(err, &vErr) {
		writeError(w, http.StatusBadRequest, vErr.Message)
		return
	}
	var bErr *service.BudgetExceededError
	if errors.As(err, &bErr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message":   bErr.Error(),
			"voteCount": bErr.Count,
			"maxVotes":  bErr.Limit,
		})
		return
	}
	if errors.Is(err, service.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if errors.Is(err, service.ErrConflict) {
		writeError(w, http.StatusConflict, "duplicate entry")
		return
	}
	writeError(w, http.StatusInternalServerError, "server error")
}

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireElectionsEdit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil || !claims.HasPermission(PermElectionsEdit) {
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// hasPermission checks the bearer token without requiring one: endpoints
// with public and privileged variants use it instead of the middleware.
func (s *Server) hasPermission(r *http.Request, name string) bool {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return false
	}
	claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
	if err != nil {
		return false
	}
	return claims.HasPermission(name)
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func nocache(r *http.Request) bool {
	return r.URL.Query().Get("nocache") == "true"
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return ""
}
