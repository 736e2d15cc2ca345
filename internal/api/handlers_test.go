package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/clubactivities/internal/auth"
	"example.com/clubactivities/internal/notify"
	"example.com/clubactivities/internal/persistence/memory"
	"example.com/clubactivities/internal/reconcile"
	"example.com/clubactivities/internal/scheduling"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	repo := memory.NewRepository()
	service := scheduling.NewService(repo, notify.Noop{})
	handler := NewHandler(service, reconcile.NewReconciler(reconcile.NewCache()), 100)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return mux
}

func authed(req *http.Request, userID string, scopes ...string) *http.Request {
	scopeSet := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		scopeSet[s] = struct{}{}
	}
	claims := &auth.Claims{
		Subject:   userID,
		Scopes:    scopeSet,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, userID string, body any, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req = authed(req, userID, scopes...)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func createActivity(t *testing.T, mux *http.ServeMux, creator string, req CreateActivityRequest) ActivityView {
	t.Helper()
	rr := doJSON(t, mux, http.MethodPost, "/v1/activities", creator, req, auth.ScopeActivitiesWrite)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}
	var view ActivityView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return view
}

func TestCreateActivityAndJoinRespectsCapacity(t *testing.T) {
	mux := newTestMux(t)
	capacity := 1
	created := createActivity(t, mux, "organizer", CreateActivityRequest{
		Title:    "Tuesday tempo run",
		StartsAt: time.Now().Add(48 * time.Hour).Truncate(time.Second),
		Sport:    "running",
		Capacity: &capacity,
		Public:   true,
		Access:   "open",
	})

	rr := doJSON(t, mux, http.MethodPost, "/v1/activities/"+created.ActivityID+"/join", "runner-1", nil, auth.ScopeActivitiesWrite)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var p ParticipationView
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if p.Status != "registered" {
		t.Fatalf("expected registered got %s", p.Status)
	}

	rr = doJSON(t, mux, http.MethodPost, "/v1/activities/"+created.ActivityID+"/join", "runner-2", nil, auth.ScopeActivitiesWrite)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "capacity_exceeded") {
		t.Fatalf("expected capacity_exceeded got %s", rr.Body.String())
	}
}

func TestJoinRequiresWriteScope(t *testing.T) {
	mux := newTestMux(t)
	created := createActivity(t, mux, "organizer", CreateActivityRequest{
		Title:    "Easy social run",
		StartsAt: time.Now().Add(24 * time.Hour),
		Sport:    "running",
		Public:   true,
	})

	rr := doJSON(t, mux, http.MethodPost, "/v1/activities/"+created.ActivityID+"/join", "runner-1", nil, auth.ScopeActivitiesRead)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	mux := newTestMux(t)
	rr := doJSON(t, mux, http.MethodGet, "/v1/calendar", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestApprovalFlow(t *testing.T) {
	mux := newTestMux(t)
	created := createActivity(t, mux, "organizer", CreateActivityRequest{
		Title:    "Track intervals",
		StartsAt: time.Now().Add(72 * time.Hour),
		Sport:    "running",
		Public:   true,
		Access:   "approval",
	})

	rr := doJSON(t, mux, http.MethodPost, "/v1/activities/"+created.ActivityID+"/request", "runner-1", nil, auth.ScopeActivitiesWrite)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var p ParticipationView
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if p.Status != "awaiting_approval" {
		t.Fatalf("expected awaiting_approval got %s", p.Status)
	}

	// Another member must not be able to approve.
	rr = doJSON(t, mux, http.MethodPost, "/v1/activities/"+created.ActivityID+"/approve", "runner-2",
		DecisionRequest{UserID: "runner-1"}, auth.ScopeActivitiesWrite)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, mux, http.MethodPost, "/v1/activities/"+created.ActivityID+"/approve", "organizer",
		DecisionRequest{UserID: "runner-1"}, auth.ScopeActivitiesWrite)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if p.Status != "registered" {
		t.Fatalf("expected registered got %s", p.Status)
	}
}

func TestSeriesCancelEntireSeries(t *testing.T) {
	mux := newTestMux(t)
	start := time.Now().Add(96 * time.Hour).Truncate(time.Minute)
	day := int(start.Weekday())
	if day == 0 {
		day = 7
	}

	rr := doJSON(t, mux, http.MethodPost, "/v1/series", "organizer", CreateSeriesRequest{
		CreateActivityRequest: CreateActivityRequest{
			Title:    "Sunday long run",
			StartsAt: start,
			Sport:    "running",
			Public:   true,
		},
		Frequency: "weekly",
		DayOfWeek: day,
		Hour:      start.Hour(),
		Minute:    start.Minute(),
		Count:     3,
	}, auth.ScopeActivitiesWrite)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}
	var series CreateSeriesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &series); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(series.Instances) != 3 {
		t.Fatalf("expected 3 instances got %d", len(series.Instances))
	}

	// Field edits never accept the entire_series scope.
	title := "Renamed"
	rr = doJSON(t, mux, http.MethodPatch, "/v1/activities/"+series.Instances[0].ActivityID, "organizer",
		EditActivityRequest{Scope: "entire_series", Patch: PatchRequest{Title: &title}}, auth.ScopeActivitiesWrite)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, mux, http.MethodPost, "/v1/activities/"+series.Instances[0].ActivityID+"/cancel", "organizer",
		CancelActivityRequest{Scope: "entire_series"}, auth.ScopeActivitiesWrite)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var result EditResultView
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Affected != 3 || result.Requested != 3 {
		t.Fatalf("expected 3 of 3 affected got %d of %d", result.Affected, result.Requested)
	}

	rr = doJSON(t, mux, http.MethodGet, "/v1/activities/"+series.Instances[1].ActivityID, "organizer", nil, auth.ScopeActivitiesRead)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var view ActivityView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.Status != "cancelled" {
		t.Fatalf("expected cancelled got %s", view.Status)
	}
}

func TestBroadCancelInvalidatesSiblingDetailCache(t *testing.T) {
	mux := newTestMux(t)
	start := time.Now().Add(96 * time.Hour).Truncate(time.Minute)
	day := int(start.Weekday())
	if day == 0 {
		day = 7
	}

	rr := doJSON(t, mux, http.MethodPost, "/v1/series", "organizer", CreateSeriesRequest{
		CreateActivityRequest: CreateActivityRequest{
			Title:    "Wednesday fartlek",
			StartsAt: start,
			Sport:    "running",
			Public:   true,
		},
		Frequency: "weekly",
		DayOfWeek: day,
		Hour:      start.Hour(),
		Minute:    start.Minute(),
		Count:     3,
	}, auth.ScopeActivitiesWrite)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}
	var series CreateSeriesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &series); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(series.Instances) != 3 {
		t.Fatalf("expected 3 instances got %d", len(series.Instances))
	}

	// Warm the sibling's detail cache before the broad mutation.
	sibling := series.Instances[1].ActivityID
	rr = doJSON(t, mux, http.MethodGet, "/v1/activities/"+sibling, "runner-1", nil, auth.ScopeActivitiesRead)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, mux, http.MethodPost, "/v1/activities/"+series.Instances[0].ActivityID+"/cancel", "organizer",
		CancelActivityRequest{Scope: "this_and_following"}, auth.ScopeActivitiesWrite)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, mux, http.MethodGet, "/v1/activities/"+sibling, "runner-1", nil, auth.ScopeActivitiesRead)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var view ActivityView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.Status != "cancelled" {
		t.Fatalf("expected cancelled got %s", view.Status)
	}
}

func TestEditRequiresOrganizer(t *testing.T) {
	mux := newTestMux(t)
	created := createActivity(t, mux, "organizer", CreateActivityRequest{
		Title:    "Hill repeats",
		StartsAt: time.Now().Add(24 * time.Hour),
		Sport:    "running",
		Public:   true,
	})

	title := "Hijacked"
	rr := doJSON(t, mux, http.MethodPatch, "/v1/activities/"+created.ActivityID, "runner-1",
		EditActivityRequest{Scope: "this_only", Patch: PatchRequest{Title: &title}}, auth.ScopeActivitiesWrite)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCalendarWindowModeMine(t *testing.T) {
	mux := newTestMux(t)
	mine := createActivity(t, mux, "organizer", CreateActivityRequest{
		Title:    "Joined run",
		StartsAt: time.Now().Add(24 * time.Hour),
		Sport:    "running",
		Public:   true,
	})
	createActivity(t, mux, "organizer", CreateActivityRequest{
		Title:    "Other run",
		StartsAt: time.Now().Add(10 * 24 * time.Hour),
		Sport:    "running",
		Public:   true,
	})

	rr := doJSON(t, mux, http.MethodPost, "/v1/activities/"+mine.ActivityID+"/join", "runner-1", nil, auth.ScopeActivitiesWrite)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, mux, http.MethodGet, "/v1/calendar?mode=mine", "runner-1", nil, auth.ScopeActivitiesRead)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp CalendarResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	total := 0
	for _, week := range resp.Weeks {
		for _, day := range week.Days {
			for _, entry := range day.Entries {
				total++
				if entry.Activity.ActivityID != mine.ActivityID {
					t.Fatalf("unexpected activity %s in mine mode", entry.Activity.ActivityID)
				}
				if entry.Participation != "registered" {
					t.Fatalf("expected registered got %s", entry.Participation)
				}
			}
		}
	}
	if total != 1 {
		t.Fatalf("expected 1 entry got %d", total)
	}
}

func TestCalendarFeedRendersICS(t *testing.T) {
	mux := newTestMux(t)
	createActivity(t, mux, "organizer", CreateActivityRequest{
		Title:    "Feed run",
		StartsAt: time.Now().Add(24 * time.Hour),
		Sport:    "running",
		Public:   true,
	})

	rr := doJSON(t, mux, http.MethodGet, "/v1/calendar.ics", "runner-1", nil, auth.ScopeActivitiesRead)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("unexpected content type %s", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "BEGIN:VCALENDAR") || !strings.Contains(body, "Feed run") {
		t.Fatalf("unexpected feed body: %s", body)
	}
}
