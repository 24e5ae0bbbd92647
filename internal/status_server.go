package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"chat-relay/relay"

	"github.com/shirou/gopsutil/process"
)

// StatusServer exposes the synchronous administrative surface: the current
// online count and server time, plus process metrics. It is not part of the
// event protocol. Implements contract.Worker and runs under the supervisor.
type StatusServer struct {
	log    *slog.Logger
	engine *relay.Engine
	addr   string
}

func NewStatusServer(log *slog.Logger, engine *relay.Engine, host string, port int) *StatusServer {
	return &StatusServer{log: log, engine: engine, addr: fmt.Sprintf("%s:%d", host, port)}
}

type processStats struct {
	RSSMb      uint64  `json:"rss_mb"`
	CPUPercent float64 `json:"cpu_percent"`
}

type statusResponse struct {
	relay.StatusReport
	Process processStats `json:"process"`
}

func (s *StatusServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)

	server := &http.Server{Addr: s.addr, Handler: mux}

	errChan := make(chan error, 1)
	go func() {
		s.log.Info("Status server listening", "address", s.addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := statusResponse{StatusReport: s.engine.Status()}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := p.MemoryInfo(); err == nil {
			response.Process.RSSMb = mem.RSS / 1024 / 1024
		}
		if cpu, err := p.CPUPercent(); err == nil {
			response.Process.CPUPercent = cpu
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.Warn("Status encoding failed", "error", err)
	}
}
