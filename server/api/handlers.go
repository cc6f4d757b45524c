package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/GoCodeAlone/focus/depgraph"
	"github.com/GoCodeAlone/focus/events"
	"github.com/GoCodeAlone/focus/task"
)

// dateLayout is the wire form of calendar dates.
const dateLayout = "2006-01-02"

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Engine    Engine
	Tasks     task.Store
	Bus       events.Bus
	Scheduler Scheduler
	Logger    *slog.Logger
	Location  *time.Location // calendar dates in requests
	Version   string
	StartAt   time.Time
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/focus", h.focus)

	mux.HandleFunc("GET /api/tasks", h.listTasks)
	mux.HandleFunc("POST /api/tasks", h.createTask)
	mux.HandleFunc("GET /api/tasks/{id}", h.getTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", h.deleteTask)
	mux.HandleFunc("GET /api/tasks/{id}/history", h.taskHistory)
	mux.HandleFunc("GET /api/tasks/{id}/blockers", h.taskBlockers)
	mux.HandleFunc("PUT /api/tasks/{id}/tier", h.setTier)
	mux.HandleFunc("POST /api/tasks/{id}/transition", h.transition)

	mux.HandleFunc("GET /api/comparisons", h.listComparisons)
	mux.HandleFunc("POST /api/comparisons", h.compare)

	mux.HandleFunc("GET /api/dependencies", h.listDependencies)
	mux.HandleFunc("POST /api/dependencies", h.addDependency)
	mux.HandleFunc("DELETE /api/dependencies", h.removeDependency)

	mux.HandleFunc("POST /api/reviews/someday/ack", h.ackSomedayReview)

	mux.HandleFunc("GET /api/events", h.listEvents)

	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps engine errors to HTTP statuses. Cycle errors carry
// the offending path so the client can explain the rejection.
func (h *Handlers) writeDomainError(w http.ResponseWriter, err error) {
	var (
		self  *depgraph.SelfDependencyError
		cycle *depgraph.CycleError
		ill   *task.IllegalTransitionError
		stale *task.StaleTaskError
		pre   *task.PreconditionError
		nf    *task.NotFoundError
	)
	switch {
	case errors.As(err, &cycle):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "path": cycle.Path})
	case errors.As(err, &self):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "path": []string{self.TaskID, self.TaskID}})
	case errors.As(err, &ill):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &stale):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	case errors.As(err, &pre):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger().Error("request failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handlers) location() *time.Location {
	if h.Location == nil {
		return time.Local
	}
	return h.Location
}

// parseDate reads an optional "2006-01-02" value.
func (h *Handlers) parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	d, err := time.ParseInLocation(dateLayout, v, h.location())
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// --- Focus ---

func (h *Handlers) focus(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Focus(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Task handlers ---

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("ranked") == "true" {
		ranked, err := h.Engine.Ranked(r.Context())
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ranked)
		return
	}

	filter := task.Filter{Limit: queryInt(r, "limit", 0), Offset: queryInt(r, "offset", 0)}
	if s := q.Get("state"); s != "" {
		st := task.State(s)
		if !st.IsValid() {
			writeError(w, http.StatusBadRequest, "unknown state: "+s)
			return
		}
		filter.State = &st
	}

	tasks, err := h.Tasks.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

type createTaskRequest struct {
	Title   string `json:"title"`
	Notes   string `json:"notes"`
	Tier    string `json:"tier"`
	DueDate string `json:"due_date"`
}

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	tier := task.TierMedium
	if req.Tier != "" {
		var ok bool
		if tier, ok = task.ParseTier(req.Tier); !ok {
			writeError(w, http.StatusBadRequest, "unknown tier: "+req.Tier)
			return
		}
	}
	due, err := h.parseDate(req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid due_date: "+err.Error())
		return
	}
	t, err := h.Engine.CreateTask(r.Context(), &task.Task{
		Title:   req.Title,
		Notes:   req.Notes,
		Tier:    tier,
		DueDate: due,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) taskHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.Tasks.Get(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	hist, err := h.Tasks.History(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if hist == nil {
		hist = []task.HistoryEvent{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *Handlers) taskBlockers(w http.ResponseWriter, r *http.Request) {
	blockers, err := h.Engine.BlockersOf(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if blockers == nil {
		blockers = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, blockers)
}

func (h *Handlers) setTier(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tier string `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	tier, ok := task.ParseTier(req.Tier)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown tier: "+req.Tier)
		return
	}
	t, err := h.Engine.SetTier(r.Context(), r.PathValue("id"), tier)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type transitionRequest struct {
	To           task.State          `json:"to"`
	StartDate    string              `json:"start_date,omitempty"`
	DelegatedTo  string              `json:"delegated_to,omitempty"`
	FollowUpDate string              `json:"follow_up_date,omitempty"`
	Reason       task.PostponeReason `json:"reason,omitempty"`
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	ctx := r.Context()

	var (
		t   *task.Task
		err error
	)
	switch req.To {
	case task.StateCompleted:
		t, err = h.Engine.Complete(ctx, id)
	case task.StateTrash:
		t, err = h.Engine.Trash(ctx, id)
	case task.StateSomeday:
		t, err = h.Engine.Someday(ctx, id)
	case task.StateActive:
		t, err = h.Engine.Reclaim(ctx, id)
	case task.StateDeferred:
		start, perr := h.parseDate(req.StartDate)
		if perr != nil || start == nil {
			writeError(w, http.StatusBadRequest, "start_date (YYYY-MM-DD) is required")
			return
		}
		t, err = h.Engine.Defer(ctx, id, *start, req.Reason)
	case task.StateDelegated:
		follow, perr := h.parseDate(req.FollowUpDate)
		if perr != nil || follow == nil || req.DelegatedTo == "" {
			writeError(w, http.StatusBadRequest, "delegated_to and follow_up_date (YYYY-MM-DD) are required")
			return
		}
		t, err = h.Engine.Delegate(ctx, id, req.DelegatedTo, *follow)
	default:
		writeError(w, http.StatusBadRequest, "unknown state: "+string(req.To))
		return
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- Comparisons ---

func (h *Handlers) compare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WinnerID string `json:"winner_id"`
		LoserID  string `json:"loser_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	rec, err := h.Engine.Compare(r.Context(), req.WinnerID, req.LoserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handlers) listComparisons(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Tasks.Comparisons(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if recs == nil {
		recs = []task.ComparisonRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// --- Dependencies ---

type edgeRequest struct {
	Blocked  string `json:"blocked"`
	Blocking string `json:"blocking"`
}

func (h *Handlers) listDependencies(w http.ResponseWriter, r *http.Request) {
	edges, err := h.Engine.Dependencies(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if edges == nil {
		edges = []task.Edge{}
	}
	writeJSON(w, http.StatusOK, edges)
}

func (h *Handlers) addDependency(w http.ResponseWriter, r *http.Request) {
	var req edgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.Engine.AddDependency(r.Context(), req.Blocked, req.Blocking); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handlers) removeDependency(w http.ResponseWriter, r *http.Request) {
	var req edgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.Engine.RemoveDependency(r.Context(), req.Blocked, req.Blocking); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Reviews ---

func (h *Handlers) ackSomedayReview(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	if err := h.Scheduler.AcknowledgeSomedayReview(r.Context(), time.Now()); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Events ---

func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := h.Bus.History(queryInt(r, "limit", 50))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if evs == nil {
		evs = []*events.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

// --- Status / version ---

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": h.Version,
	}
	if !h.StartAt.IsZero() {
		resp["uptime"] = time.Since(h.StartAt).Round(time.Second).String()
	}
	if h.Scheduler != nil {
		resp["jobs"] = h.Scheduler.State().Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}
