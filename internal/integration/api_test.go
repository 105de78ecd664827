package integration

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zb-ss/opencode-workflows-sub001/internal/api"
	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	"github.com/zb-ss/opencode-workflows-sub001/internal/events"
	"github.com/zb-ss/opencode-workflows-sub001/internal/janitor"
	"github.com/zb-ss/opencode-workflows-sub001/internal/logging"
)

// newAPIServer stands up the inspection server over the harness state,
// history included, metrics on.
func newAPIServer(t *testing.T, h *harness) *httptest.Server {
	t.Helper()
	srv := api.NewServer(h.store, h.machine, h.bus,
		api.WithHistory(h.history),
		api.WithMetrics(prometheus.NewRegistry()),
	)
	server := httptest.NewServer(srv.Handler())
	t.Cleanup(server.Close)
	return server
}

func getJSON(t *testing.T, client *http.Client, url string, status int, out any) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != status {
		t.Fatalf("GET %s: expected status %d, got %d", url, status, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("GET %s: decoding response: %v", url, err)
		}
	}
}

// TestInspectionAPI walks the read-only HTTP surface against seeded
// workflow records.
func TestInspectionAPI(t *testing.T) {
	h := newHarness(t)
	older := h.seedWorkflow(t, "wf-api-older", core.WorkflowTypeBuild, core.ModeBalanced)
	newer := h.seedWorkflow(t, "wf-api-newer", core.WorkflowTypeExplore, core.ModeEconomy)

	// Distinct update stamps make list order deterministic.
	older.State.UpdatedAt = time.Now().Add(-time.Hour)
	h.store.Write(context.Background(), older.Path, older.State)
	newer.State.UpdatedAt = time.Now()
	h.store.Write(context.Background(), newer.Path, newer.State)

	server := newAPIServer(t, h)
	client := &http.Client{Timeout: 10 * time.Second}

	t.Run("health", func(t *testing.T) {
		var body map[string]string
		getJSON(t, client, server.URL+"/health", http.StatusOK, &body)
		if body["status"] != "healthy" {
			t.Errorf("unexpected health payload: %v", body)
		}
	})

	t.Run("list workflows", func(t *testing.T) {
		var body struct {
			Workflows []struct {
				WorkflowID  string `json:"workflow_id"`
				CurrentGate string `json:"current_gate"`
				Complete    bool   `json:"complete"`
				GatesTotal  int    `json:"gates_total"`
			} `json:"workflows"`
			Count int `json:"count"`
		}
		getJSON(t, client, server.URL+"/api/v1/workflows", http.StatusOK, &body)
		if body.Count != 2 || len(body.Workflows) != 2 {
			t.Fatalf("expected 2 workflows, got count %d", body.Count)
		}
		if body.Workflows[0].WorkflowID != "wf-api-newer" {
			t.Errorf("expected most recent first, got %s", body.Workflows[0].WorkflowID)
		}
		if body.Workflows[0].CurrentGate != "discovery" || body.Workflows[0].GatesTotal != 4 {
			t.Errorf("unexpected explore summary: %+v", body.Workflows[0])
		}
		if body.Workflows[0].Complete {
			t.Error("fresh workflow must not read complete")
		}
	})

	t.Run("active workflow", func(t *testing.T) {
		var body struct {
			Path  string `json:"path"`
			State struct {
				WorkflowID string `json:"workflow_id"`
			} `json:"state"`
			Pending []struct {
				Name   string `json:"name"`
				Status string `json:"status"`
			} `json:"pending_gates"`
		}
		getJSON(t, client, server.URL+"/api/v1/workflows/active", http.StatusOK, &body)
		if body.State.WorkflowID != "wf-api-newer" {
			t.Errorf("expected newest workflow, got %s", body.State.WorkflowID)
		}
		if len(body.Pending) != 4 || body.Pending[0].Name != "discovery" {
			t.Errorf("unexpected pending gates: %+v", body.Pending)
		}
	})

	t.Run("workflow by id", func(t *testing.T) {
		var body struct {
			State struct {
				WorkflowID   string `json:"workflow_id"`
				WorkflowType string `json:"workflow_type"`
			} `json:"state"`
		}
		getJSON(t, client, server.URL+"/api/v1/workflows/wf-api-older", http.StatusOK, &body)
		if body.State.WorkflowID != "wf-api-older" || body.State.WorkflowType != "build" {
			t.Errorf("unexpected detail: %+v", body.State)
		}
	})

	t.Run("pending gates by id", func(t *testing.T) {
		var body struct {
			WorkflowID string `json:"workflow_id"`
			Complete   bool   `json:"complete"`
			Pending    []struct {
				Name string `json:"name"`
			} `json:"pending"`
		}
		getJSON(t, client, server.URL+"/api/v1/workflows/wf-api-older/gates", http.StatusOK, &body)
		if body.Complete || len(body.Pending) != 5 {
			t.Errorf("expected 5 pending build gates, got %+v", body)
		}
	})

	t.Run("unknown workflow is 404", func(t *testing.T) {
		getJSON(t, client, server.URL+"/api/v1/workflows/wf-nope", http.StatusNotFound, nil)
		getJSON(t, client, server.URL+"/api/v1/workflows/wf-nope/gates", http.StatusNotFound, nil)
	})

	t.Run("bad history limit is 400", func(t *testing.T) {
		getJSON(t, client, server.URL+"/api/v1/history?limit=banana", http.StatusBadRequest, nil)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := client.Get(server.URL + "/metrics")
		if err != nil {
			t.Fatalf("GET /metrics: %v", err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("reading metrics: %v", err)
		}
		if !strings.Contains(string(body), "ocw_api_requests_total") {
			t.Error("expected request counter in metrics exposition")
		}
	})
}

// TestHistoryEndpointsAfterArchive archives a finished workflow through
// the janitor and reads it back over HTTP.
func TestHistoryEndpointsAfterArchive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	stored := h.seedWorkflow(t, "wf-api-done", core.WorkflowTypeBuild, core.ModeThorough)

	for _, gate := range h.machine.Ordering(core.WorkflowTypeBuild) {
		h.transition(t, stored.Path, func(st *core.WorkflowState) error {
			if err := h.machine.Begin(st, gate); err != nil {
				return err
			}
			st.AppendAgentRecord(core.AgentRecord{
				AgentType: "tester",
				Gate:      gate,
				Verdict:   core.VerdictPass,
			})
			return h.machine.Pass(st, gate)
		})
	}

	jan := janitor.New(janitor.Config{
		Schedule:    "* * * * *",
		MarkerTTL:   time.Hour,
		AutoArchive: true,
	}, h.store, h.registry, h.machine, logging.NewNop(), janitor.WithHistory(h.history))
	if rep := jan.RunOnce(ctx); rep.Archived != 1 {
		t.Fatalf("expected 1 archive, got %d", rep.Archived)
	}

	server := newAPIServer(t, h)
	client := &http.Client{Timeout: 10 * time.Second}

	var list struct {
		Archived []struct {
			WorkflowID  string `json:"workflow_id"`
			GatesPassed int    `json:"gates_passed"`
			Verdicts    int    `json:"verdicts"`
		} `json:"archived"`
		Count int `json:"count"`
	}
	getJSON(t, client, server.URL+"/api/v1/history", http.StatusOK, &list)
	if list.Count != 1 || list.Archived[0].WorkflowID != "wf-api-done" {
		t.Fatalf("unexpected history list: %+v", list)
	}
	if list.Archived[0].GatesPassed != 5 || list.Archived[0].Verdicts != 5 {
		t.Errorf("unexpected history tallies: %+v", list.Archived[0])
	}

	var verdicts struct {
		WorkflowID string `json:"workflow_id"`
		Verdicts   []struct {
			Gate    string `json:"gate"`
			Verdict string `json:"verdict"`
		} `json:"verdicts"`
	}
	getJSON(t, client, server.URL+"/api/v1/history/wf-api-done/verdicts", http.StatusOK, &verdicts)
	if len(verdicts.Verdicts) != 5 {
		t.Fatalf("expected 5 verdicts, got %d", len(verdicts.Verdicts))
	}
	if verdicts.Verdicts[0].Gate != "planning" || verdicts.Verdicts[0].Verdict != "pass" {
		t.Errorf("unexpected first verdict: %+v", verdicts.Verdicts[0])
	}
}

// TestEventStream reads the SSE handshake and one published event off
// the live stream.
func TestEventStream(t *testing.T) {
	h := newHarness(t)
	server := newAPIServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/events", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("opening stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	waitEvent := func(eventType string) {
		t.Helper()
		want := "event: " + eventType
		for scanner.Scan() {
			if scanner.Text() == want {
				return
			}
		}
		t.Fatalf("stream ended before %q arrived: %v", eventType, scanner.Err())
	}

	// The server announces the subscription before any bus traffic.
	waitEvent("connected")

	h.bus.Publish(events.NewWorkflowChanged("wf-sse", "/tmp/wf-sse.json", "write", "in_progress", "planning"))
	waitEvent(events.TypeWorkflowChanged)
}
