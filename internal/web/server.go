package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"bot_arbitrage/config"
	"bot_arbitrage/internal/engine"
)

// Server exposes a read-mostly JSON API, a small dashboard and a websocket
// event feed for the agent.
type Server struct {
	agent    *engine.Agent
	cfg      *config.Config
	port     string
	upgrader websocket.Upgrader
}

func NewServer(agent *engine.Agent, cfg *config.Config, port string) *Server {
	return &Server{
		agent: agent,
		cfg:   cfg,
		port:  port,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Start() {
	http.HandleFunc("/", s.handleIndex)
	http.HandleFunc("/api/health", s.handleHealth)
	http.HandleFunc("/api/opportunities", s.handleOpportunities)
	http.HandleFunc("/api/executions/", s.handleExecutions) // Trailing slash to match /api/executions/{id}
	http.HandleFunc("/api/performance", s.handlePerformance)
	http.HandleFunc("/api/config", s.handleConfig)
	http.HandleFunc("/api/agent/action", s.handleAgentAction)
	http.HandleFunc("/ws", s.handleWS)

	log.Printf("🌐 Web server starting on http://localhost:%s", s.port)
	go func() {
		if err := http.ListenAndServe(":"+s.port, nil); err != nil {
			log.Printf("Web server error: %v", err)
		}
	}()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	lastScan := int64(0)
	if t := s.agent.LastScan(); !t.IsZero() {
		lastScan = t.Unix()
	}

	response := map[string]interface{}{
		"status":       "ok",
		"running":      s.agent.IsRunning(),
		"last_scan":    lastScan,
		"active_count": len(s.agent.ActiveExecutions()),
		"events_shed":  s.agent.Bus().Dropped(),
		"timestamp":    time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	report, err := s.agent.Scan(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"opportunities": report.Opportunities,
		"failures":      report.Failures,
		"scanned_at":    report.ScannedAt.Unix(),
	})
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	id := ""
	if len(path) > len("/api/executions/") {
		id = path[len("/api/executions/"):]
	}

	// DELETE /api/executions/{id} requests a manual close
	if r.Method == http.MethodDelete {
		if id == "" {
			http.Error(w, "Execution ID required", http.StatusBadRequest)
			return
		}

		log.Printf("🔄 Closing execution via API: %s", id)
		if err := s.agent.CloseExecution(r.Context(), id); err != nil {
			log.Printf("❌ Failed to close execution %s: %v", id, err)
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Query().Get("all") == "true" {
		json.NewEncoder(w).Encode(s.agent.Executions())
		return
	}
	json.NewEncoder(w).Encode(s.agent.ActiveExecutions())
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.agent.Performance())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"execution_mode":           s.cfg.ExecutionMode,
		"symbols":                  s.cfg.Symbols,
		"min_funding_rate":         s.cfg.MinFundingRateThreshold,
		"max_position_size":        s.cfg.MaxPositionSize,
		"max_concurrent_positions": s.cfg.MaxConcurrentPositions,
		"max_drawdown_percent":     s.cfg.MaxDrawdownPercent,
		"scan_interval":            s.cfg.ScanInterval.String(),
		"monitor_interval":         s.cfg.MonitorInterval.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleAgentAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "start":
		s.agent.Start()
	case "stop":
		s.agent.Stop()
	default:
		http.Error(w, "Unknown action: "+req.Action, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"running": s.agent.IsRunning(),
	})
}

// handleWS streams the agent's event feed to the browser. Each connection
// gets its own bounded subscription; a stalled socket sheds events instead
// of backpressuring the agent.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️ Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := s.agent.Bus().Subscribe(128)
	defer cancel()

	// Reader goroutine only to detect the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
