package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_ListRuns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs/" {
			t.Errorf("Expected path /api/v1/runs/, got %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET method, got %s", r.Method)
		}
		if got := r.URL.Query().Get("network"); got != "goerli" {
			t.Errorf("network = %q, want goerli", got)
		}
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("limit = %q, want 5", got)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "run-1", "network": "goerli", "chainId": 8453, "status": "succeeded", "stepCount": 3},
			},
			"pagination": map[string]any{
				"limit":      5,
				"hasMore":    true,
				"nextCursor": "run-1",
			},
		})
	}))
	defer server.Close()

	client := New(server.URL)
	resp, err := client.ListRuns(context.Background(), ListRunsOptions{Network: "goerli", Limit: 5})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}

	if len(resp.Data) != 1 {
		t.Fatalf("ListRuns() returned %d runs, want 1", len(resp.Data))
	}
	if resp.Data[0].ChainID != 8453 {
		t.Errorf("ListRuns()[0].ChainID = %d, want 8453", resp.Data[0].ChainID)
	}
	if resp.Data[0].StepCount != 3 {
		t.Errorf("ListRuns()[0].StepCount = %d, want 3", resp.Data[0].StepCount)
	}
	if !resp.Pagination.HasMore || resp.Pagination.NextCursor != "run-1" {
		t.Errorf("Pagination = %+v, want hasMore with cursor run-1", resp.Pagination)
	}
}

func TestClient_GetRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs/run-1" {
			t.Errorf("Expected path /api/v1/runs/run-1, got %s", r.URL.Path)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"id":      "run-1",
			"network": "goerli",
			"status":  "failed",
			"error":   "step 1 (router, KmbioRouter): submission failed",
			"steps": []map[string]any{
				{"index": 0, "stepId": "factory", "contract": "KmbioFactory", "state": "confirmed", "txHash": "0xabc"},
				{"index": 1, "stepId": "router", "contract": "KmbioRouter", "state": "failed"},
			},
		})
	}))
	defer server.Close()

	client := New(server.URL)
	run, err := client.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}

	if run.Status != "failed" {
		t.Errorf("GetRun().Status = %s, want failed", run.Status)
	}
	if len(run.Steps) != 2 {
		t.Fatalf("GetRun() returned %d steps, want 2", len(run.Steps))
	}
	if run.Steps[0].TxHash != "0xabc" {
		t.Errorf("Steps[0].TxHash = %s, want 0xabc", run.Steps[0].TxHash)
	}
}

func TestClient_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"code":    "NOT_FOUND",
				"message": "run not found",
			},
		})
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.GetRun(context.Background(), "missing")
	if err == nil {
		t.Fatal("GetRun() expected error, got nil")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetRun() error type = %T, want *APIError", err)
	}
	if apiErr.Code != "NOT_FOUND" {
		t.Errorf("APIError.Code = %s, want NOT_FOUND", apiErr.Code)
	}
}

func TestClient_NonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	err := New(server.URL).Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Health() error type = %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusBadGateway {
		t.Errorf("APIError.Status = %d, want 502", apiErr.Status)
	}
}
