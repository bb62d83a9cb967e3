package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
)

// ScanRequester asks for a scan cycle outside the regular schedule.
// Request reports false when a request is already pending.
type ScanRequester interface {
	Request() bool
}

type Server struct {
	trackingService coursechange.TrackingService
	scans           ScanRequester
	addr            string
}

func NewServer(addr string, t coursechange.TrackingService, s ScanRequester) Server {
	return Server{t, s, addr}
}

func (s Server) Handler() http.Handler {
	r := httprouter.New()

	r.GET("/ping", s.pingHandler())
	r.PUT("/users/:user", s.registerUserHandler())
	r.GET("/users/:user/sections", s.trackedHandler())
	r.DELETE("/users/:user/sections", s.untrackAllHandler())
	r.PUT("/users/:user/sections/*section", s.trackHandler())
	r.DELETE("/users/:user/sections/*section", s.untrackHandler())
	r.POST("/scan", s.scanHandler())

	return r
}

func (s Server) Start(ctx context.Context) error {
	srv := http.Server{Addr: s.addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	log.Info().Str("addr", s.addr).Msg("listening")

	// start server, respecting context cancelation
	errChan := make(chan error, 1)
	go func() { errChan <- srv.ListenAndServe() }()
	select {
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		log.Info().Msg("server shutdown complete")
	}

	return nil
}

// sectionParam reads the catch-all section id, e.g. /users/u1/sections/C%20S/142/001
func sectionParam(p httprouter.Params) (coursechange.SectionID, error) {
	id := coursechange.SectionID(strings.TrimPrefix(p.ByName("section"), "/"))
	return id, id.Valid()
}

// statusFor maps a service error to a response status
func statusFor(err error) int {
	switch {
	case errors.Is(err, coursechange.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coursechange.ErrDependencyUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.WriteHeader(status)
	if _, err := w.Write([]byte(text)); err != nil {
		log.Error().Err(err).Msg("error writing response")
	}
}

func (s Server) pingHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		log.Debug().Msg("Ping request received")
		writeText(w, http.StatusOK, "OK")
	}
}

type RegisterUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (s Server) registerUserHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		userID := p.ByName("user")

		var req RegisterUserRequest
		if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Warn().Err(err).Msg("error decoding register request")
			http.Error(w, "Failed to parse request", http.StatusBadRequest)
			return
		}

		user := coursechange.UserAccount{ID: userID, Email: req.Email, Name: req.Name}
		if err := s.trackingService.RegisterUser(r.Context(), user); err != nil {
			log.Warn().Err(err).Str("user", userID).Msg("registration failed")
			http.Error(w, "Registration failed, please provide a valid email", http.StatusBadRequest)
			return
		}

		writeText(w, http.StatusOK, "Registered\n")
		log.Info().Str("user", userID).Msg("Register request succeeded")
	}
}

type SectionResponse struct {
	ID         coursechange.SectionID  `json:"id"`
	Display    string                  `json:"display"`
	Attributes coursechange.Attributes `json:"attributes"`
}

func (s Server) trackedHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		userID := p.ByName("user")

		sections, err := s.trackingService.Tracked(r.Context(), userID)
		if err != nil {
			log.Error().Err(err).Str("user", userID).Msg("failed to list tracked sections")
			http.Error(w, "Failed to list tracked sections", statusFor(err))
			return
		}

		resp := make([]SectionResponse, 0, len(sections))
		for _, section := range sections {
			resp = append(resp, SectionResponse{section.ID, section.ID.Display(), section.Attributes})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := sonic.ConfigDefault.NewEncoder(w).Encode(resp); err != nil {
			log.Error().Err(err).Msg("error writing tracked response")
		}
	}
}

func (s Server) trackHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		userID := p.ByName("user")
		id, err := sectionParam(p)
		if err != nil {
			http.Error(w, "Invalid section, expected department/number/section", http.StatusBadRequest)
			return
		}

		added, err := s.trackingService.Track(r.Context(), userID, id)
		if err != nil {
			log.Warn().Err(err).Str("user", userID).Str("section", id.String()).Msg("track request failed")
			http.Error(w, "Tracking failed, please ensure the course you are tracking exists", statusFor(err))
			return
		}

		if !added {
			writeText(w, http.StatusOK, "Already registered for section\n")
			return
		}

		writeText(w, http.StatusCreated, "Registered for section\n")
	}
}

func (s Server) untrackHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		userID := p.ByName("user")
		id, err := sectionParam(p)
		if err != nil {
			http.Error(w, "Invalid section, expected department/number/section", http.StatusBadRequest)
			return
		}

		if err := s.trackingService.Untrack(r.Context(), userID, id); err != nil {
			log.Error().Err(err).Str("user", userID).Str("section", id.String()).Msg("untrack request failed")
			http.Error(w, "Failed to untrack section", statusFor(err))
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (s Server) untrackAllHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		userID := p.ByName("user")

		if err := s.trackingService.UntrackAll(r.Context(), userID); err != nil {
			log.Error().Err(err).Str("user", userID).Msg("untrack all request failed")
			http.Error(w, "Failed to untrack sections", statusFor(err))
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (s Server) scanHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if !s.scans.Request() {
			writeText(w, http.StatusAccepted, "Scan already pending\n")
			return
		}

		log.Info().Msg("Scan requested")
		writeText(w, http.StatusAccepted, "Scan requested\n")
	}
}
