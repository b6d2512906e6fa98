package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/limwakra/youless-bridge/internal/meter"
	"github.com/limwakra/youless-bridge/internal/store"
)

// meterView is the API projection of one session.
type meterView struct {
	Config meter.Config `json:"config"`
	Status meter.Status `json:"status"`
}

func (s *Server) handleAPIModels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, meter.Models)
}

func (s *Server) handleAPIRunDiscovery(w http.ResponseWriter, r *http.Request) {
	result := s.scanner.Discover(r.Context())
	if err := s.store.SaveDiscovery(result); err != nil {
		s.logger.Error("persist discovery result", "err", err)
	}
	s.events.Emit(meter.Event{Type: meter.EventDiscovery, Data: result})
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAPILastDiscovery(w http.ResponseWriter, r *http.Request) {
	result, err := s.store.GetDiscovery()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no discovery result yet"})
			return
		}
		s.logger.Error("load discovery result", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAPIListMeters(w http.ResponseWriter, r *http.Request) {
	sessions := s.manager.List()
	views := make([]meterView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, meterView{Config: session.Config(), Status: session.Status()})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPICreateMeter(w http.ResponseWriter, r *http.Request) {
	var cfg meter.Config
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if _, ok := s.manager.Get(cfg.Name); ok {
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": "meter already exists"})
		return
	}
	session, err := s.manager.Deploy(cfg)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusCreated, meterView{Config: session.Config(), Status: session.Status()})
}

func (s *Server) handleAPIGetMeter(w http.ResponseWriter, r *http.Request) {
	session, ok := s.manager.Get(r.PathValue("name"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "meter not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, meterView{Config: session.Config(), Status: session.Status()})
}

func (s *Server) handleAPIUpdateMeter(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.manager.Get(name); !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "meter not found"})
		return
	}

	var cfg meter.Config
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	// The path wins over any name in the body.
	cfg.Name = name

	session, err := s.manager.Deploy(cfg)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, meterView{Config: session.Config(), Status: session.Status()})
}

func (s *Server) handleAPIDeleteMeter(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.manager.Get(name); !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "meter not found"})
		return
	}
	if err := s.manager.Remove(name); err != nil {
		s.logger.Error("remove meter", "err", err, "meter", name)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type controlRequest struct {
	Command string `json:"command"`
}

func (s *Server) handleAPIControlMeter(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	session, ok := s.manager.Get(name)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "meter not found"})
		return
	}

	var req controlRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := session.Control(req.Command); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, session.Status())
}

func (s *Server) handleAPIMeterStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := s.manager.Get(r.PathValue("name"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "meter not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, session.Status())
}

func (s *Server) handleAPIMeterLast(w http.ResponseWriter, r *http.Request) {
	session, ok := s.manager.Get(r.PathValue("name"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "meter not found"})
		return
	}
	record := session.LastRecord()
	if record == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no reading yet"})
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}
