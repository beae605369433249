package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/S-Ungurean/healthdeploy/internal/telemetry"
)

// Server is the lightweight deploy agent that runs on each fleet node as an
// alternative to SSH transport. It exposes a heartbeat probe and a command
// execution endpoint used by the dispatcher.
type Server struct {
	Version string
	srv     *http.Server
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/v0/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		_ = r.Body.Close()

		telemetry.CounterGlobal("healthdeploy_agent_heartbeats", 1, map[string]string{
			"component": "agent",
			"endpoint":  "heartbeat",
		})

		h := HeartbeatResponse{Time: time.Now(), Host: r.Host, Version: s.Version}
		_ = json.NewEncoder(w).Encode(h)

		telemetry.TimerGlobal("healthdeploy_agent_request_duration", time.Since(start), map[string]string{
			"component": "agent",
			"endpoint":  "heartbeat",
			"status":    "200",
		})
	})
	mux.HandleFunc("/v0/exec", func(w http.ResponseWriter, r *http.Request) {
		// Token auth via env var; when unset the agent trusts its network.
		if tok := os.Getenv("HEALTHDEPLOY_AGENT_TOKEN"); tok != "" {
			auth := r.Header.Get("Authorization")
			x := r.Header.Get("X-Auth-Token")
			if auth != "Bearer "+tok && x != tok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		requestStart := time.Now()
		defer r.Body.Close()

		var req ExecRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			telemetry.CounterGlobal("healthdeploy_agent_exec_errors", 1, map[string]string{
				"component": "agent",
				"endpoint":  "exec",
				"error":     "decode_request",
			})
			http.Error(w, err.Error(), 400)
			return
		}

		telemetry.CounterGlobal("healthdeploy_agent_exec_requests", 1, map[string]string{
			"component": "agent",
			"endpoint":  "exec",
			"command":   req.Command,
		})

		ctx := r.Context()
		if req.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(req.Timeout)*time.Second)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, req.Command, req.Args...)
		if req.WorkDir != "" {
			cmd.Dir = req.WorkDir
		}
		if len(req.Env) > 0 {
			cmd.Env = append(cmd.Env, req.Env...)
		}
		if req.Input != "" {
			cmd.Stdin = strings.NewReader(req.Input)
		}

		execStart := time.Now()
		out, err := cmd.CombinedOutput()
		execDuration := time.Since(execStart)

		resp := ExecResponse{Stdout: string(out), Stderr: "", Duration: execDuration.Milliseconds()}
		status := "success"

		if err != nil {
			status = "error"
			if exit, ok := err.(*exec.ExitError); ok {
				resp.ExitCode = exit.ExitCode()
			} else {
				resp.ExitCode = 1
			}
		}

		labels := map[string]string{
			"component": "agent",
			"endpoint":  "exec",
			"command":   req.Command,
			"status":    status,
		}

		telemetry.TimerGlobal("healthdeploy_agent_exec_duration", execDuration, labels)
		telemetry.TimerGlobal("healthdeploy_agent_request_duration", time.Since(requestStart), labels)

		if status == "success" {
			telemetry.CounterGlobal("healthdeploy_agent_exec_successful", 1, labels)
		} else {
			telemetry.CounterGlobal("healthdeploy_agent_exec_failed", 1, labels)
		}

		_ = json.NewEncoder(w).Encode(resp)
	})
}

// ListenAndServe starts the server
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.routes(mux)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s.srv.ListenAndServe()
}

// Shutdown the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return fmt.Errorf("server not running")
	}
	return s.srv.Shutdown(ctx)
}
