package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"apply-coordinator/internal/domain"
	"apply-coordinator/internal/domain/model"
	"apply-coordinator/internal/infra/logging"
)

// siteView is the wire shape of a site record. Unset timestamps are
// rendered as null rather than the zero time.
type siteView struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	Pattern       string     `json:"pattern,omitempty"`
	Enabled       bool       `json:"enabled"`
	LockedBy      string     `json:"lockedBy,omitempty"`
	LockExpiresAt *time.Time `json:"lockExpiresAt,omitempty"`
	Completed     bool       `json:"completed"`
	Failed        bool       `json:"failed"`
	FailCount     int        `json:"failCount"`
	LastError     string     `json:"lastError,omitempty"`
	LastFailureAt *time.Time `json:"lastFailureAt,omitempty"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type queueItemView struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	JobID       string          `json:"jobId"`
	JobURL      string          `json:"jobUrl"`
	Status      string          `json:"status"`
	QueuedAt    time.Time       `json:"queuedAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	FilledData  json.RawMessage `json:"filledData,omitempty"`
	Logs        *model.FillLogs `json:"logs,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func toSiteView(s *model.Site) *siteView {
	if s == nil {
		return nil
	}
	return &siteView{
		ID:            s.ID,
		Name:          s.Name,
		URL:           s.URL,
		Pattern:       s.Pattern,
		Enabled:       s.Enabled,
		LockedBy:      s.LockedBy,
		LockExpiresAt: timePtr(s.LockExpiresAt),
		Completed:     s.Completed,
		Failed:        s.Failed,
		FailCount:     s.FailCount,
		LastError:     s.LastError,
		LastFailureAt: timePtr(s.LastFailureAt),
		LastRunAt:     timePtr(s.LastRunAt),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func toQueueItemView(q *model.QueueItem) *queueItemView {
	if q == nil {
		return nil
	}
	return &queueItemView{
		ID:          q.ID,
		UserID:      q.UserID,
		JobID:       q.JobID,
		JobURL:      q.JobURL,
		Status:      string(q.Status),
		QueuedAt:    q.QueuedAt,
		StartedAt:   timePtr(q.StartedAt),
		CompletedAt: timePtr(q.CompletedAt),
		FilledData:  q.FilledData,
		Logs:        q.Logs,
		Error:       q.Error,
		CreatedAt:   q.CreatedAt,
		UpdatedAt:   q.UpdatedAt,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

type ackResponse struct {
	Success bool `json:"success"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain sentinels onto HTTP status codes. Anything
// unrecognized is a 500 with a generic body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not Found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrLeaseMismatch):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

type siteCreateRequest struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Pattern string `json:"pattern"`
}

func (s *Server) handleSiteCreate(w http.ResponseWriter, r *http.Request) {
	var req siteCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	site, err := s.siteUC.Create(r.Context(), req.Name, req.URL, req.Pattern)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSiteView(site))
}

func (s *Server) handleSiteList(list func(ctx context.Context) ([]*model.Site, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sites, err := list(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		views := make([]*siteView, 0, len(sites))
		for _, site := range sites {
			views = append(views, toSiteView(site))
		}
		writeJSON(w, http.StatusOK, struct {
			Data []*siteView `json:"data"`
		}{Data: views})
	}
}

type siteLeaseRequest struct {
	WorkerID    string `json:"workerId"`
	LockSeconds int    `json:"lockSeconds"`
}

// handleSiteLease grants an exclusive time-boxed claim on the oldest
// eligible site. An empty registry is a JSON null with 200, not an error.
func (s *Server) handleSiteLease(w http.ResponseWriter, r *http.Request) {
	var req siteLeaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ttl := s.defaultLockTTL
	if req.LockSeconds > 0 {
		ttl = time.Duration(req.LockSeconds) * time.Second
	}
	ctx := logging.WithWorkerID(r.Context(), req.WorkerID)
	site, err := s.siteUC.Lease(ctx, req.WorkerID, ttl)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSiteView(site))
}

type siteActionRequest struct {
	ID       string `json:"id"`
	WorkerID string `json:"workerId"`
	Error    string `json:"error"`
}

func (s *Server) handleSiteComplete(w http.ResponseWriter, r *http.Request) {
	var req siteActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.siteUC.Complete(r.Context(), req.ID, req.WorkerID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true})
}

func (s *Server) handleSiteRelease(w http.ResponseWriter, r *http.Request) {
	var req siteActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.siteUC.Release(r.Context(), req.ID, req.WorkerID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true})
}

func (s *Server) handleSiteFail(w http.ResponseWriter, r *http.Request) {
	var req siteActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.siteUC.Fail(r.Context(), req.ID, req.WorkerID, req.Error); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true})
}

type siteRetryRequest struct {
	ID         string `json:"id"`
	ClearError *bool  `json:"clearError"`
}

func (s *Server) handleSiteRetry(w http.ResponseWriter, r *http.Request) {
	var req siteRetryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	clearError := true
	if req.ClearError != nil {
		clearError = *req.ClearError
	}
	if err := s.siteUC.Retry(r.Context(), req.ID, clearError); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true})
}

// handleQueueLease claims the oldest pending item. Stale running items are
// folded back into the pool inside the same transaction, so one call both
// recovers and claims.
func (s *Server) handleQueueLease(w http.ResponseWriter, r *http.Request) {
	item, err := s.queueUC.LeaseNext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueItemView(item))
}

type queueCompleteRequest struct {
	ID         string          `json:"id"`
	FilledData json.RawMessage `json:"filledData"`
	Logs       *model.FillLogs `json:"logs"`
}

func (s *Server) handleQueueComplete(w http.ResponseWriter, r *http.Request) {
	var req queueCompleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.queueUC.Complete(r.Context(), req.ID, req.FilledData, req.Logs); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true})
}

type queueFailRequest struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func (s *Server) handleQueueFail(w http.ResponseWriter, r *http.Request) {
	var req queueFailRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.queueUC.Fail(r.Context(), req.ID, req.Error); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true})
}

type queueRetryRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	var req queueRetryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.queueUC.Retry(r.Context(), req.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true})
}

type resetStaleRequest struct {
	MaxAgeSeconds int `json:"maxAgeSeconds"`
}

func (s *Server) handleQueueResetStale(w http.ResponseWriter, r *http.Request) {
	var req resetStaleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := s.queueUC.ResetStale(r.Context(), time.Duration(req.MaxAgeSeconds)*time.Second)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Reset int `json:"reset"`
	}{Reset: n})
}

type enqueueRequest struct {
	UserID       string `json:"userId"`
	Limit        int    `json:"limit"`
	OnlyUnqueued *bool  `json:"onlyUnqueued"`
}

func (s *Server) handleQueueEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	onlyUnqueued := true
	if req.OnlyUnqueued != nil {
		onlyUnqueued = *req.OnlyUnqueued
	}
	n, err := s.queueUC.EnqueueForUser(r.Context(), req.UserID, req.Limit, onlyUnqueued)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Inserted int `json:"inserted"`
	}{Inserted: n})
}

func (s *Server) handleQueueHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.queueUC.History(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]*queueItemView, 0, len(items))
	for _, item := range items {
		views = append(views, toQueueItemView(item))
	}
	writeJSON(w, http.StatusOK, struct {
		Data []*queueItemView `json:"data"`
	}{Data: views})
}

type jobInput struct {
	SiteID  string `json:"siteId"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Company string `json:"company"`
}

type jobsStoreRequest struct {
	Jobs []jobInput `json:"jobs"`
}

// handleJobsStore ingests a batch of scraped listings from scrape
// workers. These listings feed the enqueue candidate pool.
func (s *Server) handleJobsStore(w http.ResponseWriter, r *http.Request) {
	var req jobsStoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	jobs := make([]*model.Job, 0, len(req.Jobs))
	for _, in := range req.Jobs {
		jobs = append(jobs, model.NewJob("", in.SiteID, in.URL, in.Title, in.Company))
	}
	n, err := s.jobUC.Store(r.Context(), jobs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Stored int `json:"stored"`
	}{Stored: n})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	totals, err := s.statsUC.Totals(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}
