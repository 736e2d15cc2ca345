// Package api exposes HTTP handlers for the club activities service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/clubactivities/internal/auth"
	"example.com/clubactivities/internal/calendar"
	"example.com/clubactivities/internal/domain"
	"example.com/clubactivities/internal/persistence"
	"example.com/clubactivities/internal/reconcile"
	"example.com/clubactivities/internal/scheduling"
	"example.com/clubactivities/internal/timeindex"
)

// Handler coordinates HTTP requests with the scheduling service. Participation
// mutations run through the reconciler so cached views self-heal after lost
// capacity races.
type Handler struct {
	service     *scheduling.Service
	reconciler  *reconcile.Reconciler
	windowLimit int
}

// NewHandler builds a Handler.
func NewHandler(service *scheduling.Service, reconciler *reconcile.Reconciler, windowLimit int) *Handler {
	if windowLimit <= 0 {
		windowLimit = 100
	}
	return &Handler{service: service, reconciler: reconciler, windowLimit: windowLimit}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/series", h.createSeries)
	mux.HandleFunc("/v1/calendar", h.calendarWindow)
	mux.HandleFunc("/v1/calendar.ics", h.calendarFeed)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createActivity(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.getActivity(w, r, id)
	case action == "" && r.Method == http.MethodPatch:
		h.editActivity(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		h.cancelActivity(w, r, id)
	case action == "join" && r.Method == http.MethodPost:
		h.join(w, r, id)
	case action == "request" && r.Method == http.MethodPost:
		h.requestJoin(w, r, id)
	case action == "leave" && r.Method == http.MethodPost:
		h.leave(w, r, id)
	case action == "approve" && r.Method == http.MethodPost:
		h.approve(w, r, id)
	case action == "reject" && r.Method == http.MethodPost:
		h.reject(w, r, id)
	case action == "attendance" && r.Method == http.MethodPost:
		h.confirmAttendance(w, r, id)
	case action == "participants" && r.Method == http.MethodGet:
		h.listParticipants(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req CreateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	inst, err := h.service.CreateActivity(r.Context(), actor, req.toInput())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toActivityView(*inst, time.Now().UTC()))
}

func (h *Handler) createSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	actor, ok := h.requireActor(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req CreateSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	generated, instances, err := h.service.CreateSeries(r.Context(), actor, req.toInput())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	now := time.Now().UTC()
	resp := CreateSeriesResponse{
		SeriesID:  generated.ID,
		Frequency: string(generated.Frequency),
		Instances: make([]ActivityView, 0, len(instances)),
	}
	for _, inst := range instances {
		resp.Instances = append(resp.Instances, h.toActivityView(inst, now))
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id string) {
	_, ok := h.requireActor(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}

	if entry, hit := h.reconciler.Cache().Get(reconcile.DetailKey(id)); hit {
		if inst, typed := entry.Value.(domain.ActivityInstance); typed {
			writeJSON(w, http.StatusOK, h.toActivityView(inst, time.Now().UTC()))
			return
		}
	}

	inst, err := h.service.GetActivity(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.reconciler.Cache().Put(reconcile.DetailKey(id), *inst)
	writeJSON(w, http.StatusOK, h.toActivityView(*inst, time.Now().UTC()))
}

func (h *Handler) editActivity(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.requireActor(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req EditActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	scope, err := parseScope(req.Scope)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	result, err := h.service.EditActivity(r.Context(), actor, scheduling.EditInput{
		ActivityID: id,
		Scope:      scope,
		Patch:      req.Patch.toDomain(),
		Notify:     req.Notify,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.dropAffected(id, result.AffectedIDs)
	writeJSON(w, http.StatusOK, toEditResultView(*result))
}

func (h *Handler) cancelActivity(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.requireActor(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req CancelActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	scope, err := parseScope(req.Scope)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	result, err := h.service.CancelActivity(r.Context(), actor, scheduling.CancelInput{
		ActivityID: id,
		Scope:      scope,
		Notify:     req.Notify,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.dropAffected(id, result.AffectedIDs)
	writeJSON(w, http.StatusOK, toEditResultView(*result))
}

// dropAffected invalidates the cached views of every instance a scoped
// mutation touched. Broad scopes rewrite siblings in the store, so dropping
// only the target would keep serving their stale detail views.
func (h *Handler) dropAffected(targetID string, affectedIDs []string) {
	cache := h.reconciler.Cache()
	cache.Drop(reconcile.DetailKey(targetID))
	for _, affectedID := range affectedIDs {
		cache.Drop(reconcile.DetailKey(affectedID))
		cache.Drop(reconcile.RosterKey(affectedID))
	}
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.requireActor(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}
	h.runParticipation(w, r, id, actor, domain.ParticipationRegistered, func() (*domain.Participation, error) {
		return h.service.Join(r.Context(), actor, id)
	})
}

func (h *Handler) requestJoin(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.requireActor(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}
	h.runParticipation(w, r, id, actor, domain.ParticipationAwaitingApproval, func() (*domain.Participation, error) {
		return h.service.RequestJoin(r.Context(), actor, id)
	})
}

func (h *Handler) leave(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.requireActor(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}
	h.runParticipation(w, r, id, actor, domain.ParticipationCancelled, func() (*domain.Participation, error) {
		return h.service.Leave(r.Context(), actor, id)
	})
}

// runParticipation executes a self-service participation mutation through the
// reconciler: the roster cache is patched optimistically, the authoritative
// verdict comes from the store, and the touched keys are refetched on settle.
func (h *Handler) runParticipation(w http.ResponseWriter, r *http.Request, id string, actor scheduling.Actor, optimistic domain.ParticipationStatus, apply func() (*domain.Participation, error)) {
	var result *domain.Participation
	now := time.Now().UTC()

	err := h.reconciler.Run(r.Context(), reconcile.Mutation{
		Keys: []reconcile.Key{
			reconcile.RosterKey(id),
			reconcile.DetailKey(id),
		},
		Optimistic: func(key reconcile.Key, value any) any {
			roster, ok := value.([]domain.Participation)
			if !ok || key != reconcile.RosterKey(id) {
				return value
			}
			return patchRoster(roster, actor.UserID, id, optimistic, now)
		},
		Apply: func(ctx context.Context) error {
			p, applyErr := apply()
			if applyErr != nil {
				return applyErr
			}
			result = p
			return nil
		},
		Refresh: h.refreshKeys(id),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipationView(*result))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.requireActor(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	p, err := h.service.Approve(r.Context(), actor, id, req.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.reconciler.Cache().Drop(reconcile.RosterKey(id))
	writeJSON(w, http.StatusOK, toParticipationView(*p))
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.requireActor(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	p, err := h.service.Reject(r.Context(), actor, id, req.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.reconciler.Cache().Drop(reconcile.RosterKey(id))
	writeJSON(w, http.StatusOK, toParticipationView(*p))
}

func (h *Handler) confirmAttendance(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.requireActor(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}
	var req AttendanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Outcomes) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "outcomes are required")
		return
	}

	if err := h.service.ConfirmAttendance(r.Context(), actor, id, req.Outcomes); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.reconciler.Cache().Drop(reconcile.RosterKey(id))
	writeJSON(w, http.StatusOK, map[string]int{"confirmed": len(req.Outcomes)})
}

func (h *Handler) listParticipants(w http.ResponseWriter, r *http.Request, id string) {
	_, ok := h.requireActor(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}

	if entry, hit := h.reconciler.Cache().Get(reconcile.RosterKey(id)); hit {
		if roster, typed := entry.Value.([]domain.Participation); typed {
			writeJSON(w, http.StatusOK, toRosterView(roster))
			return
		}
	}

	roster, err := h.service.Roster(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.reconciler.Cache().Put(reconcile.RosterKey(id), roster)
	writeJSON(w, http.StatusOK, toRosterView(roster))
}

func (h *Handler) calendarWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	actor, ok := h.requireActor(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}

	q, mode, err := h.parseWindowQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	instances, statuses, next, err := h.service.Window(r.Context(), actor, q)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	now := time.Now().UTC()
	entries := make([]calendar.Entry, 0, len(instances))
	for _, inst := range instances {
		entries = append(entries, calendar.Entry{
			Instance:      inst,
			Participation: statuses[inst.ID],
		})
	}
	timeline := calendar.Build(entries, mode, now)

	resp := CalendarResponse{
		Weeks:      make([]WeekView, 0, len(timeline.Weeks)),
		NextCursor: persistence.EncodeCursor(next),
	}
	for _, week := range timeline.Weeks {
		wv := WeekView{Offset: week.Offset, Days: make([]DayView, 0, len(week.Days))}
		for _, day := range week.Days {
			dv := DayView{
				DayOfWeek: day.DayOfWeek,
				Collapsed: day.Collapsed,
				Entries:   make([]EntryView, 0, len(day.Entries)),
			}
			for _, entry := range day.Entries {
				dv.Entries = append(dv.Entries, EntryView{
					Activity:      h.toActivityView(entry.Instance, now),
					Participation: string(entry.Participation),
				})
			}
			wv.Days = append(wv.Days, dv)
		}
		resp.Weeks = append(resp.Weeks, wv)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) calendarFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	actor, ok := h.requireActor(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}

	q, _, err := h.parseWindowQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	instances, _, _, err := h.service.Window(r.Context(), actor, q)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "Club activities"
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(calendar.ToICS(name, instances)))
}

func (h *Handler) parseWindowQuery(r *http.Request) (domain.WindowQuery, calendar.Mode, error) {
	query := r.URL.Query()

	from, err := parseTimeParam(query.Get("from"), time.Now().UTC().AddDate(0, -1, 0))
	if err != nil {
		return domain.WindowQuery{}, calendar.ModeAll, errors.New("invalid from timestamp")
	}
	to, err := parseTimeParam(query.Get("to"), time.Now().UTC().AddDate(0, 3, 0))
	if err != nil {
		return domain.WindowQuery{}, calendar.ModeAll, errors.New("invalid to timestamp")
	}
	if !to.After(from) {
		return domain.WindowQuery{}, calendar.ModeAll, errors.New("to must be after from")
	}

	limit := h.windowLimit
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= h.windowLimit {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(query.Get("cursor"))
	if err != nil {
		return domain.WindowQuery{}, calendar.ModeAll, errors.New("invalid cursor")
	}

	mode := calendar.ModeAll
	if query.Get("mode") == string(calendar.ModeMine) {
		mode = calendar.ModeMine
	}

	return domain.WindowQuery{
		From:    from,
		To:      to,
		ClubID:  query.Get("club_id"),
		GroupID: query.Get("group_id"),
		Cursor:  cursor,
		Limit:   limit,
	}, mode, nil
}

func parseTimeParam(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// requireActor authenticates the request and checks the scope. Write scope
// implies read.
func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request, scope string) (scheduling.Actor, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return scheduling.Actor{}, false
	}
	allowed := claims.HasScope(scope)
	if !allowed && scope == auth.ScopeActivitiesRead {
		allowed = claims.HasScope(auth.ScopeActivitiesWrite)
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return scheduling.Actor{}, false
	}
	return scheduling.Actor{
		UserID:        claims.Subject,
		AdminClubIDs:  claims.AdminClubs,
		AdminGroupIDs: claims.AdminGroups,
	}, true
}

func (h *Handler) refreshKeys(activityID string) func(ctx context.Context, keys []reconcile.Key) error {
	return func(ctx context.Context, keys []reconcile.Key) error {
		inst, err := h.service.GetActivity(ctx, activityID)
		if err != nil {
			return err
		}
		roster, err := h.service.Roster(ctx, activityID)
		if err != nil {
			return err
		}
		h.reconciler.Cache().Put(reconcile.DetailKey(activityID), *inst)
		h.reconciler.Cache().Put(reconcile.RosterKey(activityID), roster)
		return nil
	}
}

func patchRoster(roster []domain.Participation, userID, activityID string, status domain.ParticipationStatus, now time.Time) []domain.Participation {
	out := make([]domain.Participation, 0, len(roster)+1)
	found := false
	for _, p := range roster {
		if p.UserID == userID {
			p.Status = status
			p.UpdatedAt = now
			found = true
		}
		out = append(out, p)
	}
	if !found {
		out = append(out, domain.Participation{
			UserID:     userID,
			ActivityID: activityID,
			Status:     status,
			JoinedAt:   now,
			UpdatedAt:  now,
		})
	}
	return out
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "organizer role required")
	case errors.Is(err, domain.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "capacity_exceeded", "activity is full")
	case errors.Is(err, domain.ErrAlreadyPast):
		writeError(w, http.StatusConflict, "already_past", "activity has already taken place")
	case errors.Is(err, domain.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, scheduling.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func parseScope(raw string) (domain.EditScope, error) {
	switch domain.EditScope(raw) {
	case domain.ScopeThisOnly, domain.ScopeThisAndFollowing, domain.ScopeEntireSeries:
		return domain.EditScope(raw), nil
	case "":
		return domain.ScopeThisOnly, nil
	default:
		return "", errors.New("scope must be this_only, this_and_following or entire_series")
	}
}

func (h *Handler) toActivityView(inst domain.ActivityInstance, now time.Time) ActivityView {
	week, day := timeindex.Index(inst.LocalStart(), now)
	view := ActivityView{
		ActivityID:      inst.ID,
		Title:           inst.Title,
		StartsAt:        inst.StartsAt,
		TZOffsetSeconds: inst.TZOffsetSeconds,
		WeekOffset:      week,
		DayOfWeek:       day,
		Location:        inst.Location,
		Sport:           string(inst.Sport),
		Difficulty:      string(inst.Difficulty),
		DistanceKM:      inst.DistanceKM,
		DurationMin:     inst.DurationMin,
		ElevationM:      inst.ElevationM,
		Capacity:        inst.Capacity,
		Public:          inst.Visibility.Public,
		ClubID:          inst.Visibility.ClubID,
		GroupID:         inst.Visibility.GroupID,
		Access:          string(inst.Access),
		Status:          string(inst.Status),
		Detached:        inst.Detached,
		CreatorID:       inst.CreatorID,
		CreatedAt:       inst.CreatedAt,
		UpdatedAt:       inst.UpdatedAt,
	}
	if inst.Series != nil {
		view.SeriesID = inst.Series.SeriesID
		seq := inst.Series.SequenceNumber
		view.SequenceNumber = &seq
	}
	return view
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
