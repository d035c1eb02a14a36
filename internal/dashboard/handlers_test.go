package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mini-rodalies-3d/ridealong/internal/mirror"
	"github.com/mini-rodalies-3d/ridealong/internal/navigation"
	"github.com/mini-rodalies-3d/ridealong/internal/topology"
)

type fakeSession struct {
	state navigation.State
	flags navigation.Flags
	role  mirror.Role
	token string
}

func (f *fakeSession) State() navigation.State { return f.state }
func (f *fakeSession) Flags() navigation.Flags { return f.flags }
func (f *fakeSession) Role() mirror.Role       { return f.role }
func (f *fakeSession) Token() string           { return f.token }

type failingReader struct{}

func (failingReader) Get(context.Context, string) (*mirror.Payload, error) {
	return nil, errors.New("connection refused")
}

func journeyState() navigation.State {
	a := topology.Station{ID: 1, Name: "A"}
	b := topology.Station{ID: 2, Name: "B"}
	line := &topology.Line{ID: "R2", Name: "R2", Stations: []topology.Station{a, b}}
	return navigation.State{
		Header:      navigation.HeaderNext,
		Line:        line,
		Bound:       &b,
		Direction:   topology.Outbound,
		Current:     &a,
		Next:        &b,
		Stations:    line.Stations,
		RawStations: line.Stations,
		Theme:       "dark",
		Revision:    7,
	}
}

func newTestServer(t *testing.T, session Session, docs DocumentReader) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(NewHandler(session, docs, "memory"), nil))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		docs       DocumentReader
		wantStatus int
		wantDB     string
	}{
		{"connected", mirror.NewMemoryStore(), http.StatusOK, "connected"},
		{"store down", failingReader{}, http.StatusServiceUnavailable, "disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeSession{}, tt.docs)
			var body map[string]interface{}
			status := getJSON(t, srv.URL+"/health", &body)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if body["database"] != tt.wantDB || body["store"] != "memory" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestGetSession(t *testing.T) {
	store := mirror.NewMemoryStore()
	if err := store.Set(context.Background(), "tok", mirror.FromState(journeyState())); err != nil {
		t.Fatal(err)
	}

	t.Run("subscribed", func(t *testing.T) {
		srv := newTestServer(t, &fakeSession{role: mirror.RoleSubscriber, token: "tok"}, store)
		var body SessionResponse
		if status := getJSON(t, srv.URL+"/api/session", &body); status != http.StatusOK {
			t.Fatalf("status = %d", status)
		}
		if body.Role != "subscriber" || body.Token != "tok" {
			t.Errorf("role/token = %s/%s", body.Role, body.Token)
		}
		if body.Document == nil || body.Document.SelectedLine.ID != "R2" {
			t.Errorf("document = %+v", body.Document)
		}
	})

	t.Run("no session", func(t *testing.T) {
		srv := newTestServer(t, &fakeSession{}, store)
		var body SessionResponse
		getJSON(t, srv.URL+"/api/session", &body)
		if body.Role != "none" || body.Document != nil {
			t.Errorf("body = %+v", body)
		}
	})

	t.Run("document deleted", func(t *testing.T) {
		srv := newTestServer(t, &fakeSession{role: mirror.RoleSubscriber, token: "gone"}, store)
		var body SessionResponse
		if status := getJSON(t, srv.URL+"/api/session", &body); status != http.StatusOK {
			t.Errorf("status = %d", status)
		}
		if body.Document != nil {
			t.Errorf("document = %+v, want none", body.Document)
		}
	})
}

func TestGetDocument(t *testing.T) {
	store := mirror.NewMemoryStore()
	if err := store.Set(context.Background(), "tok", mirror.FromState(journeyState())); err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, &fakeSession{}, store)

	var doc mirror.Payload
	if status := getJSON(t, srv.URL+"/api/sessions/tok", &doc); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if doc.Theme != "dark" || doc.SelectedBound.ID != 2 {
		t.Errorf("doc = %+v", doc)
	}

	var errBody ErrorResponse
	if status := getJSON(t, srv.URL+"/api/sessions/missing", &errBody); status != http.StatusNotFound {
		t.Errorf("missing document status = %d, want 404", status)
	}
	if errBody.Error == "" {
		t.Error("expected an error message")
	}
}

func TestGetState(t *testing.T) {
	session := &fakeSession{
		state: journeyState(),
		flags: navigation.Flags{Degraded: true},
	}
	srv := newTestServer(t, session, mirror.NewMemoryStore())

	var body StateResponse
	if status := getJSON(t, srv.URL+"/api/state", &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if !body.Ready || !body.Degraded || body.LocationUnavailable {
		t.Errorf("ready/degraded/unavailable = %v/%v/%v", body.Ready, body.Degraded, body.LocationUnavailable)
	}
	if body.Revision != 7 {
		t.Errorf("revision = %d, want 7", body.Revision)
	}
	if body.State.HeaderState != "NEXT" || body.State.CurrentStation.ID != 1 || body.State.NextStation.ID != 2 {
		t.Errorf("state = %+v", body.State)
	}
}
