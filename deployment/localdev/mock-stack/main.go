package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type snapshotResponse struct {
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

type scoreRequest struct {
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

type scoreResponse struct {
	Score        float64 `json:"score"`
	Confidence   float64 `json:"confidence"`
	IsAnomaly    bool    `json:"is_anomaly"`
	ModelVersion string  `json:"model_version"`
}

type dispatchRequest struct {
	ExecutionID string            `json:"execution_id"`
	ActionType  string            `json:"action_type"`
	Target      string            `json:"target"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

type actionResult struct {
	Status      string    `json:"status"`
	Detail      string    `json:"detail"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// actionTable remembers every dispatched execution so a replayed dispatch
// with the same idempotency key returns the recorded result instead of
// applying the action twice.
type actionTable struct {
	mu      sync.Mutex
	results map[string]actionResult
}

func newActionTable() *actionTable {
	return &actionTable{results: make(map[string]actionResult)}
}

// begin records the execution as running. When the key was seen before it
// returns the recorded state and true.
func (t *actionTable) begin(key, actionType string) (actionResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if result, ok := t.results[key]; ok {
		return result, true
	}
	t.results[key] = actionResult{Status: "running", Detail: "applying " + actionType}
	return actionResult{}, false
}

func (t *actionTable) complete(key string, result actionResult) actionResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.results[key]; ok && existing.Status != "running" {
		return existing
	}
	t.results[key] = result
	return result
}

func (t *actionTable) status(key string) (actionResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	result, ok := t.results[key]
	return result, ok
}

func main() {
	start := time.Now()
	table := newActionTable()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Collector: CPU swings through a ten minute cycle so anomaly rules fire
	// periodically without hand-faked spikes.
	mux.HandleFunc("/api/v1/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		phase := math.Sin(time.Since(start).Minutes() * math.Pi / 5)
		writeJSON(w, snapshotResponse{
			Timestamp: time.Now().UTC(),
			Metrics: map[string]float64{
				"cpu_usage_percent":   55 + 40*phase,
				"memory_used_percent": 47 + 5*phase,
				"load1":               1.2 + phase,
			},
		})
	})

	// Scorer: plain threshold heuristic over CPU.
	mux.HandleFunc("/api/v1/score", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		cpu := req.Metrics["cpu_usage_percent"]
		score := cpu / 100
		if score > 1 {
			score = 1
		}
		writeJSON(w, scoreResponse{
			Score:        score,
			Confidence:   0.9,
			IsAnomaly:    cpu > 90,
			ModelVersion: "mock/threshold-v1",
		})
	})

	// Action dispatch. Parameters steer the mock: outcome=fail forces a
	// failed result, delay_ms holds the request open to exercise executor
	// timeouts and crash recovery.
	mux.HandleFunc("/api/v1/actions", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req dispatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExecutionID == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "execution_id is required"})
			return
		}

		key := r.Header.Get("X-Idempotency-Key")
		if key == "" {
			key = req.ExecutionID
		}
		if existing, seen := table.begin(key, req.ActionType); seen {
			writeJSON(w, existing)
			return
		}

		if ms := intParam(req.Parameters, "delay_ms"); ms > 0 {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}

		result := actionResult{
			Status:      "succeeded",
			Detail:      fmt.Sprintf("%s applied to %s", req.ActionType, req.Target),
			CompletedAt: time.Now().UTC(),
		}
		if req.Parameters["outcome"] == "fail" {
			result.Status = "failed"
			result.Detail = "forced failure via outcome parameter"
		}
		writeJSON(w, table.complete(key, result))
	})

	mux.HandleFunc("/api/v1/actions/status/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/actions/status/")
		result, ok := table.status(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown execution"})
			return
		}
		writeJSON(w, result)
	})

	logger := log.New(log.Writer(), "mock-stack ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func intParam(params map[string]string, key string) int {
	value, err := strconv.Atoi(params[key])
	if err != nil {
		return 0
	}
	return value
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
