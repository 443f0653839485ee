// Package status serves a small HTTP API reporting live link state,
// for supervising layers that watch the coordinator and react to it
// going offline.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/hamgrid/fsklink/pkg/fsklink"
)

type Server struct {
	link *fsklink.Link
	srv  *http.Server
}

// Report is the JSON document served at /status.
type Report struct {
	State           string  `json:"state"`
	Carrier         bool    `json:"carrier"`
	QueueDepth      int     `json:"queue_depth"`
	LastConfidence  float64 `json:"last_confidence"`
	ReceivedPackets uint64  `json:"received_packets"`
	TransmitBursts  uint64  `json:"transmit_bursts"`
}

func NewServer(port int, link *fsklink.Link) *Server {
	s := &Server{
		link: link,
		srv:  &http.Server{Addr: fmt.Sprintf(":%d", port)},
	}

	handler := httprouter.New()
	handler.GET("/status", s.getStatus)
	s.srv.Handler = handler

	return s
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.report())
}

func (s *Server) report() Report {
	return Report{
		State:           s.link.State().String(),
		Carrier:         s.link.Carrier(),
		QueueDepth:      s.link.QueueDepth(),
		LastConfidence:  s.link.LastConfidence(),
		ReceivedPackets: s.link.ReceivedPackets(),
		TransmitBursts:  s.link.TransmitBursts(),
	}
}

// Run serves until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}
