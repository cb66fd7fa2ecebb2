package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

func TestClient_StartJob(t *testing.T) {
	jobID := uuid.New()
	var got domain.StartJobRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(domain.StartJobResponse{JobID: jobID, State: domain.StatePending})
	}))
	defer srv.Close()

	resp, err := newClient(srv.URL, time.Second).StartJob(context.Background(), domain.StartJobRequest{
		DeviceID: "sda", MethodID: "zero", AllowSystemVolume: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.JobID != jobID {
		t.Errorf("expected job %s, got %s", jobID, resp.JobID)
	}
	if got.DeviceID != "sda" || got.MethodID != "zero" || !got.AllowSystemVolume {
		t.Errorf("request body not forwarded: %+v", got)
	}
}

func TestClient_ErrorBody(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"device is busy"}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, time.Second).StartJob(context.Background(), domain.StartJobRequest{DeviceID: "sda", MethodID: "zero"})
	apiErr, ok := err.(*apiError)
	if !ok {
		t.Fatalf("expected *apiError, got %T (%v)", err, err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "device is busy" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestClient_PostNotRetriedOnServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"ledger unavailable"}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, time.Second).Anchor(context.Background(), uuid.NewString())
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestClient_Watch(t *testing.T) {
	jobID := uuid.New()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/jobs/"+jobID.String()+"/stream" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(domain.JobStatus{JobID: jobID, State: domain.StateRunning, BytesWritten: 10, TotalBytes: 20})
		_ = conn.WriteJSON(domain.JobStatus{JobID: jobID, State: domain.StateSucceeded, BytesWritten: 20, TotalBytes: 20})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
	}))
	defer srv.Close()

	var states []domain.JobState
	err := newClient(srv.URL, time.Second).Watch(context.Background(), jobID.String(), func(s domain.JobStatus) {
		states = append(states, s.State)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(states) != 2 || states[1] != domain.StateSucceeded {
		t.Errorf("expected [running succeeded], got %v", states)
	}
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{500107862016, "465.8 GiB"},
	}
	for _, tt := range tests {
		if got := humanBytes(tt.in); got != tt.want {
			t.Errorf("humanBytes(%d): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}
