package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mattjoyce/deployhook/internal/pipeline"
	"github.com/mattjoyce/deployhook/internal/webhook"
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Repositories:  s.config.Repositories,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleDelivery handles webhook deliveries on the configured path.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := webhook.ReadBody(r, s.config.MaxBodyBytes)
	if err != nil {
		s.logger.Warn("failed to read delivery body", "error", err)
		s.writeOutcome(w, pipeline.OutcomeFor(err))
		return
	}

	// A sender that gives up waiting must not abort a deployment half way,
	// and shutdown waits on inflight until the run is done.
	out := s.deploy(context.WithoutCancel(r.Context()), pipeline.Request{
		Method: r.Method,
		Header: r.Header,
		Body:   body,
	})
	s.writeOutcome(w, out)
}

func (s *Server) deploy(ctx context.Context, req pipeline.Request) pipeline.Outcome {
	s.inflight.Add(1)
	defer s.inflight.Done()
	return s.deployer.Run(ctx, req)
}

// writeOutcome answers with the outcome's status code. The diagnostic is
// only sent in debug mode; successful deliveries have an empty body.
func (s *Server) writeOutcome(w http.ResponseWriter, out pipeline.Outcome) {
	if out.RunID != "" {
		w.Header().Set(HeaderRunID, out.RunID)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(out.Code)

	if s.config.Debug && out.Status != pipeline.StatusSucceeded && out.Message != "" {
		_, _ = w.Write([]byte(out.Message))
	}
}
