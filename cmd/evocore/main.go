package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/agentevolve/evocore/internal/abtest"
	"github.com/agentevolve/evocore/internal/bootstrap"
	"github.com/agentevolve/evocore/internal/config"
	"github.com/agentevolve/evocore/internal/feedback"
	"github.com/agentevolve/evocore/internal/instrument"
	"github.com/agentevolve/evocore/internal/learning"
	"github.com/agentevolve/evocore/internal/rewardlink"
	"github.com/agentevolve/evocore/internal/store"
	"github.com/agentevolve/evocore/internal/telemetry"
	"github.com/agentevolve/evocore/internal/tracer"
)

// metricsView adapts *store.Store to learning.MetricsView: the learning
// engine knows nothing about SQL, only about the Metric shape it extracts
// patterns from.
type metricsView struct{ st *store.Store }

func (m metricsView) Metrics(agentID string) ([]learning.Metric, error) {
	rows, err := m.st.QueryMetrics(agentID)
	if err != nil {
		return nil, err
	}
	out := make([]learning.Metric, len(rows))
	for i, r := range rows {
		out[i] = learning.Metric{
			ExecutionID:      r.ExecutionID,
			AgentID:          r.AgentID,
			TaskType:         r.TaskType,
			Success:          r.Success,
			DurationMs:       r.DurationMs,
			Cost:             r.Cost,
			QualityScore:     r.QualityScore,
			UserSatisfaction: r.UserSatisfaction,
			Timestamp:        r.Timestamp,
			Metadata:         r.Metadata,
		}
	}
	return out, nil
}

func main() {
	configPath := flag.String("config", "configs/catalog.yaml", "Path to the evolution catalog YAML file")
	httpPort := flag.Int("port", 0, "Override HTTP port (0 = use EVOCORE_HTTP_PORT or default 8090)")
	bootstrapDir := flag.String("bootstrap-dir", "configs/bootstrap", "Base directory bootstrap seed files must resolve under")
	agentIDs := flag.String("agent-ids", "", "Comma-separated list of agent ids eligible for bootstrap import (in addition to catalog agent types)")
	flag.Parse()

	log.Println("===============================================")
	log.Println("  evocore - self-evolving agent telemetry engine")
	log.Println("===============================================")

	proc := config.LoadProcessConfig()
	port := envHTTPPort(8090)
	if *httpPort > 0 {
		port = *httpPort
	}

	catalog := config.Load(*configPath)
	log.Printf("[MAIN] loaded catalog with %d configured agent types", len(catalog.AgentTypes))

	st, err := store.Open(proc.StoragePath, store.Options{
		BusyTimeoutMS: proc.BusyTimeoutMS,
		DisableWAL:    !proc.WAL,
	})
	if err != nil {
		log.Fatalf("[MAIN] failed to open store: %v", err)
	}
	defer st.Close()

	tr := tracer.New(st)
	links := rewardlink.New(st, tr)
	feedbackCollector := feedback.New(links)
	optEngine := abtest.New(st)

	engine := learning.New(st, metricsView{st: st}, catalog)

	registeredIDs := catalogAgentIDs(catalog)
	if *agentIDs != "" {
		registeredIDs = append(registeredIDs, splitCSV(*agentIDs)...)
	}
	registry := bootstrap.NewStaticRegistry(registeredIDs)
	loader := bootstrap.New(st, registry, st, *bootstrapDir)

	var natsServer *server.Server
	var sink telemetry.Sink = telemetry.NewLogSink()

	if proc.TelemetryEnabled {
		natsURL := proc.TelemetryNATSURL
		if natsURL == "" {
			embedded, conn, startErr := startEmbeddedNATS()
			if startErr != nil {
				log.Printf("[MAIN] embedded NATS unavailable, falling back to log sink: %v", startErr)
			} else {
				natsServer = embedded
				sink = telemetry.NewNATSSink(conn)
				natsURL = conn.ConnectedUrl()
			}
		} else {
			conn, connErr := nats.Connect(natsURL)
			if connErr != nil {
				log.Printf("[MAIN] failed to connect to NATS at %s, falling back to log sink: %v", natsURL, connErr)
			} else {
				sink = telemetry.NewNATSSink(conn)
			}
		}
		log.Printf("[MAIN] telemetry sink ready (nats_url=%q)", natsURL)
	} else {
		log.Println("[MAIN] telemetry disabled, using log sink only")
	}
	if natsServer != nil {
		defer natsServer.Shutdown()
	}

	instrumentCfg := instrument.Config{
		Tracker:          tr,
		SampleRate:       proc.SampleRate,
		TelemetrySink:    sink,
		TelemetryLimiter: rate.NewLimiter(rate.Limit(50), 100),
		Component:        "evocore",
	}

	log.Printf("[MAIN] storage path: %s", proc.StoragePath)
	log.Printf("[MAIN] sample rate: %.2f", proc.SampleRate)

	mux := http.NewServeMux()
	registerRoutes(mux, st, tr, engine, optEngine, loader, feedbackCollector, instrumentCfg, catalog)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Printf("[MAIN] HTTP server starting on port %d", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[MAIN] HTTP server error: %v", err)
		}
	}()

	log.Println("===============================================")
	log.Printf("  evocore ready!")
	log.Printf("  Health: http://localhost:%d/health", port)
	log.Printf("  Stats:  http://localhost:%d/api/stats?agent_id=...", port)
	log.Println("===============================================")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[MAIN] shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("[MAIN] HTTP server shutdown error: %v", err)
	}

	log.Println("[MAIN] evocore shutdown complete")
}

func envHTTPPort(def int) int {
	v := os.Getenv("EVOCORE_HTTP_PORT")
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n <= 0 {
		return def
	}
	return n
}

func catalogAgentIDs(cat *config.Catalog) []string {
	ids := make([]string, 0, len(cat.AgentTypes))
	for id := range cat.AgentTypes {
		ids = append(ids, id)
	}
	return ids
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func startEmbeddedNATS() (*server.Server, *nats.Conn, error) {
	opts := &server.Options{
		Port:     -1,
		HTTPPort: -1,
		NoLog:    true,
		NoSigs:   true,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		return nil, nil, fmt.Errorf("embedded NATS server did not become ready")
	}

	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		return nil, nil, fmt.Errorf("connect to embedded NATS server: %w", err)
	}
	log.Printf("[MAIN] embedded NATS server started at %s", srv.ClientURL())
	return srv, conn, nil
}

func registerRoutes(mux *http.ServeMux, st *store.Store, tr *tracer.Tracker, engine *learning.Engine, ab *abtest.Engine, loader *bootstrap.Loader, fc *feedback.Collector, instrumentCfg instrument.Config, catalog *config.Catalog) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/tasks/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Input     string `json:"input"`
			TaskType  string `json:"task_type"`
			Origin    string `json:"origin"`
			AgentID   string `json:"agent_id"`
			AgentType string `json:"agent_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}

		task, err := tr.StartTask(body.Input, body.TaskType, body.Origin, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		exec, err := tr.StartExecution(body.AgentID, body.AgentType)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		startedAt := time.Now().UTC()

		cfg := instrumentCfg
		cfg.Component = body.AgentType
		result, runErr := instrument.Wrap(r.Context(), cfg, "run_task", body.Input,
			func(ctx context.Context) (string, error) {
				return fmt.Sprintf("processed: %s", body.Input), nil
			})

		execErr := ""
		if runErr != nil {
			execErr = runErr.Error()
		}
		if err := tr.EndExecution(result, execErr); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		metric := &store.ExecutionMetric{
			ExecutionID: exec.ID,
			AgentID:     body.AgentID,
			TaskType:    body.TaskType,
			Success:     runErr == nil,
			DurationMs:  float64(time.Since(startedAt).Milliseconds()),
			Timestamp:   time.Now().UTC(),
		}
		if runErr == nil {
			metric.QualityScore = 1.0
		}
		if err := st.RecordExecutionMetric(metric); err != nil {
			log.Printf("[MAIN] failed to record execution metric: %v", err)
		}

		status := store.TaskCompleted
		if runErr != nil {
			status = store.TaskFailed
		}
		if err := tr.EndTask(status); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"task_id": task.ID,
			"result":  result,
			"status":  status,
		})
	})

	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		agentID := r.URL.Query().Get("agent_id")
		if agentID == "" {
			http.Error(w, "agent_id parameter required", http.StatusBadRequest)
			return
		}
		end := time.Now().UTC()
		start := end.Add(-24 * time.Hour)
		stats, err := st.GetStats(agentID, start, end)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	mux.HandleFunc("/api/recommendations", func(w http.ResponseWriter, r *http.Request) {
		agentID := r.URL.Query().Get("agent_id")
		taskType := r.URL.Query().Get("task_type")
		if agentID == "" || taskType == "" {
			http.Error(w, "agent_id and task_type parameters required", http.StatusBadRequest)
			return
		}
		patterns, err := engine.Recommend(agentID, taskType, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, patterns)
	})

	mux.HandleFunc("/api/skills/recommendations", func(w http.ResponseWriter, r *http.Request) {
		taskType := r.URL.Query().Get("task_type")
		if taskType == "" {
			http.Error(w, "task_type parameter required", http.StatusBadRequest)
			return
		}
		agentType := r.URL.Query().Get("agent_type")
		topN := 10
		if raw := r.URL.Query().Get("top_n"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				topN = n
			}
		}
		weights := catalog.SkillWeightsFor(agentType)
		recs, err := st.GetSkillRecommendations(taskType, agentType, topN, store.SkillWeights{
			Success: weights.Success, Confidence: weights.Confidence, Usage: weights.Usage,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	})

	mux.HandleFunc("/api/extract", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		agentID := r.URL.Query().Get("agent_id")
		if agentID == "" {
			http.Error(w, "agent_id parameter required", http.StatusBadRequest)
			return
		}
		patterns, err := engine.Extract(agentID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, patterns)
	})

	mux.HandleFunc("/api/bootstrap", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		agentID := r.URL.Query().Get("agent_id")
		path := r.URL.Query().Get("path")
		if agentID == "" || path == "" {
			http.Error(w, "agent_id and path parameters required", http.StatusBadRequest)
			return
		}
		result, err := loader.Import(agentID, path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("/api/feedback", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			SpanID       string `json:"span_id"`
			Satisfaction int    `json:"satisfaction"`
			Comment      string `json:"comment"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
		if err := fc.RecordSkillFeedback(body.SpanID, body.Satisfaction, body.Comment, feedback.KindUser); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	})

	mux.HandleFunc("/api/adaptations/apply", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			PatternID string            `json:"pattern_id"`
			Type      string            `json:"type"`
			AgentID   string            `json:"agent_id"`
			TaskType  string            `json:"task_type"`
			Skill     string            `json:"skill"`
			Before    map[string]string `json:"before"`
			After     map[string]string `json:"after"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
		adaptation, err := engine.ApplyAdaptation(body.PatternID, store.AdaptationType(body.Type), body.AgentID, body.TaskType, body.Skill, body.Before, body.After)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, adaptation)
	})

	mux.HandleFunc("/api/experiments/assign", func(w http.ResponseWriter, r *http.Request) {
		experimentID := r.URL.Query().Get("experiment_id")
		subjectID := r.URL.Query().Get("subject_id")
		if experimentID == "" || subjectID == "" {
			http.Error(w, "experiment_id and subject_id parameters required", http.StatusBadRequest)
			return
		}
		variant, err := ab.Assign(experimentID, subjectID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"variant": variant})
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[MAIN] failed to encode response: %v", err)
	}
}
