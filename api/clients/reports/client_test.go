package reports

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	saves    []Payload
	failNext int
	locked   atomic.Bool
	subject  string
	roles    string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /v1/reports/{id}/payload", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.subject = r.Header.Get("X-Principal-Subject")
		f.roles = r.Header.Get("X-Principal-Roles")
		if f.locked.Load() {
			writeJSON(w, http.StatusConflict, map[string]any{"code": "NOT_EDITABLE", "message": "report not editable"})
			return
		}
		if f.failNext > 0 {
			f.failNext--
			writeJSON(w, http.StatusInternalServerError, map[string]any{"code": "INTERNAL", "message": "internal error"})
			return
		}
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": "INVALID_JSON", "message": "invalid json"})
			return
		}
		f.saves = append(f.saves, p)
		writeJSON(w, http.StatusOK, map[string]any{"saved_at": time.Date(2026, 2, 3, 9, 0, len(f.saves), 0, time.UTC)})
	})
	mux.HandleFunc("POST /v1/reports/{id}/submit", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["expected_version"] != float64(3) {
			writeJSON(w, http.StatusConflict, map[string]any{"code": "CONFLICT", "message": "conflict"})
			return
		}
		writeJSON(w, http.StatusOK, StatusResult{Status: "submitted", Version: 4, JobID: "job-1"})
	})
	mux.HandleFunc("GET /v1/reports/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"report":                    map[string]any{"id": r.PathValue("id"), "status": "draft", "version": 1},
			"payload":                   map[string]any{"activities": "draft"},
			"autosave_interval_seconds": 30,
		})
	})
	var polls atomic.Int32
	mux.HandleFunc("GET /v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			writeJSON(w, http.StatusOK, JobOutcome{JobID: r.PathValue("id"), Status: "processing"})
			return
		}
		writeJSON(w, http.StatusOK, JobOutcome{JobID: r.PathValue("id"), Status: "success", ContentHash: "abc"})
	})
	return mux
}

func (f *fakeAPI) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newFakeClient(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL+"/", WithPrincipal(Principal{Subject: "subject-1", Roles: []string{"reviewer", "admin"}}))
	return client, api
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestClient_SaveSendsPrincipal(t *testing.T) {
	client, api := newFakeClient(t)
	savedAt, err := client.Save(context.Background(), "r-1", Payload{Activities: "a", Results: "b"})
	require.NoError(t, err)
	assert.False(t, savedAt.IsZero())
	assert.Equal(t, "subject-1", api.subject)
	assert.Equal(t, "reviewer,admin", api.roles)
}

func TestClient_ErrorsCarryCodes(t *testing.T) {
	client, api := newFakeClient(t)
	api.locked.Store(true)
	_, err := client.Save(context.Background(), "r-1", Payload{})
	require.Error(t, err)
	assert.True(t, IsNotEditable(err))

	_, err = client.Submit(context.Background(), "r-1", 2)
	assert.True(t, IsConflict(err))
	result, err := client.Submit(context.Background(), "r-1", 3)
	require.NoError(t, err)
	assert.Equal(t, "job-1", result.JobID)
}

func TestClient_AwaitJob(t *testing.T) {
	client, _ := newFakeClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := client.AwaitJob(ctx, "job-1", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "success", outcome.Status)
	assert.Equal(t, "abc", outcome.ContentHash)
}

func TestClient_ReportViewCarriesAutosaveInterval(t *testing.T) {
	client, _ := newFakeClient(t)
	view, err := client.Get(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, "r-1", view.Report.ID)
	assert.Equal(t, 30*time.Second, view.AutosaveInterval())
	assert.Equal(t, DefaultAutosaveInterval, ReportView{}.AutosaveInterval())
}

func TestSession_AutosavesDirtyPayload(t *testing.T) {
	client, api := newFakeClient(t)
	session := client.StartAutosave(context.Background(), "r-1", Payload{}, WithAutosaveInterval(10*time.Millisecond), WithLogger(quietLogger()))
	defer session.Close()

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, api.saveCount(), "a clean session must not save")

	session.Update(Payload{Activities: "draft one"})
	require.Eventually(t, func() bool {
		return api.saveCount() == 1 && !session.LastSavedAt().IsZero()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_RetriesAfterFailure(t *testing.T) {
	client, api := newFakeClient(t)
	api.failNext = 2
	session := client.StartAutosave(context.Background(), "r-1", Payload{}, WithAutosaveInterval(10*time.Millisecond), WithLogger(quietLogger()))
	defer session.Close()

	session.Update(Payload{Activities: "keep me"})
	require.Eventually(t, func() bool { return api.saveCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "keep me", api.saves[0].Activities)
}

func TestSession_StopsWhenNotEditable(t *testing.T) {
	client, api := newFakeClient(t)
	api.locked.Store(true)
	session := client.StartAutosave(context.Background(), "r-1", Payload{}, WithAutosaveInterval(10*time.Millisecond), WithLogger(quietLogger()))
	session.Update(Payload{Activities: "late"})

	select {
	case <-session.done:
	case <-time.After(2 * time.Second):
		t.Fatal("autosave loop should stop once the report is locked")
	}
	_, err := session.SaveNow(context.Background())
	assert.True(t, IsNotEditable(err), "explicit saves still report the error")
	session.Close()
}
