package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/firemen2709/sds200-scanner-dashboard/internal/storage"
	"github.com/sirupsen/logrus"
)

// Server is the dashboard HTTP surface: process control, the latest
// snapshot and the static dashboard files.
type Server struct {
	supervisor *Supervisor
	snapshots  storage.Reader
	webRoot    string
	log        *logrus.Logger
}

func NewServer(supervisor *Supervisor, snapshots storage.Reader, webRoot string, log *logrus.Logger) *Server {
	return &Server{
		supervisor: supervisor,
		snapshots:  snapshots,
		webRoot:    webRoot,
		log:        log,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/data", s.handleData)
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	// "/" serves index.html from the web root.
	mux.Handle("/", http.FileServer(http.Dir(s.webRoot)))
	return mux
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	result, err := s.supervisor.Start()
	if err != nil {
		s.log.Errorf("start poller: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": result.String()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	// A dropped client must not cut the graceful wait short.
	if err := s.supervisor.Stop(context.WithoutCancel(r.Context())); err != nil {
		s.log.Errorf("stop poller: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state": s.supervisor.State().String(),
		"pid":   s.supervisor.PID(),
	})
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshots.Latest(r.Context())
	if errors.Is(err, storage.ErrNoSnapshot) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		s.log.Errorf("read snapshot: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
