package cloudapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(baseURL string) *Client {
	return New(Config{
		BaseURL:     baseURL,
		Token:       "test-token",
		ProjectCode: "SH-485-V22",
		DeviceSN:    "SN-TEST-001",
		Timeout:     2 * time.Second,
	})
}

func TestFetchStates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != statesPath {
			t.Errorf("path = %s, want %s", r.URL.Path, statesPath)
		}
		if got := r.Header.Get("Authorization"); got != "mob;test-token" {
			t.Errorf("Authorization = %q, want %q", got, "mob;test-token")
		}

		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		if payload["projectCode"] != "SH-485-V22" || payload["deviceSn"] != "SN-TEST-001" {
			t.Errorf("request payload = %v, missing site scoping", payload)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":0,"message":"ok","result":[
			{"st":10101,"si":5,"fn":1,"fv":1},
			{"st":10101,"si":5,"fn":2,"fv":80}
		]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)

	entries, err := c.FetchStates(context.Background())
	if err != nil {
		t.Fatalf("FetchStates() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("FetchStates() entries = %d, want 2", len(entries))
	}
	if entries[0].SI != 5 || entries[0].FN != 1 || entries[0].FV != 1 {
		t.Errorf("entries[0] = %+v, want si=5 fn=1 fv=1", entries[0])
	}

	stats := c.Stats()
	if stats.SuccessfulRequests != 1 {
		t.Errorf("Stats.SuccessfulRequests = %d, want 1", stats.SuccessfulRequests)
	}
	if stats.StatesRequests != 1 {
		t.Errorf("Stats.StatesRequests = %d, want 1", stats.StatesRequests)
	}
}

func TestFetchStates_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"code":401,"message":"token expired"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)

	_, err := c.FetchStates(context.Background())
	if !errors.Is(err, ErrAPIError) {
		t.Errorf("FetchStates() error = %v, want ErrAPIError", err)
	}
	if got := c.Stats().FailedRequests; got != 1 {
		t.Errorf("Stats.FailedRequests = %d, want 1", got)
	}
}

func TestFetchStates_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv.URL)

	_, err := c.FetchStates(context.Background())
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("FetchStates() error = %v, want ErrRequestFailed", err)
	}
}

func TestFetchStates_EmptyResultTriggersWarmup(t *testing.T) {
	var profileHits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case statesPath:
			w.Write([]byte(`{"code":0,"message":"ok","result":[]}`))
		case profilePath:
			profileHits.Add(1)
			w.Write([]byte(`{"code":0}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL)

	// Warm-up fires on the 3rd consecutive empty result.
	for i := 0; i < 3; i++ {
		if _, err := c.FetchStates(context.Background()); err != nil {
			t.Fatalf("FetchStates() #%d error = %v", i+1, err)
		}
	}

	if got := profileHits.Load(); got != 1 {
		t.Errorf("profile warm-up requests = %d, want 1", got)
	}
}

func TestControlDevice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != controlPath {
			t.Errorf("path = %s, want %s", r.URL.Path, controlPath)
		}

		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		// JSON numbers decode as float64.
		if payload["si"] != float64(5) || payload["fn"] != float64(1) || payload["fv"] != float64(1) {
			t.Errorf("control payload = %v, want si=5 fn=1 fv=1", payload)
		}

		w.Write([]byte(`{"code":0,"message":"success"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)

	ok, err := c.ControlDevice(context.Background(), 10101, 5, 1, 1)
	if err != nil {
		t.Fatalf("ControlDevice() error = %v", err)
	}
	if !ok {
		t.Error("ControlDevice() ok = false, want true")
	}
}

func TestControlDevice_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"code":1001,"message":"device offline"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)

	ok, err := c.ControlDevice(context.Background(), 10101, 5, 1, 1)
	if err != nil {
		t.Fatalf("ControlDevice() error = %v, want nil for cloud-side rejection", err)
	}
	if ok {
		t.Error("ControlDevice() ok = true, want false")
	}
}

func TestControlDevice_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // immediately closed: connection refused

	c := testClient(srv.URL)

	_, err := c.ControlDevice(context.Background(), 10101, 5, 1, 1)
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("ControlDevice() error = %v, want ErrRequestFailed", err)
	}
}

func TestFetchStates_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client disconnect;
		// before Go 1.22 an unread body keeps r.Context() alive forever.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := testClient(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.FetchStates(ctx); err == nil {
		t.Error("FetchStates() error = nil, want context deadline error")
	}
}
