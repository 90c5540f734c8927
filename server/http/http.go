// Package http is the thin JSON surface over the cradle service. Session
// handling is left to whatever sits in front; callers identify themselves
// with the X-User-Id header.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/w-h-a/cradle"
	"github.com/w-h-a/cradle/fault"
	"github.com/w-h-a/cradle/store"
)

const maxUploadBytes = 10 << 20

type Server struct {
	options Options
	service *cradle.Service
	server  *http.Server
}

func NewServer(service *cradle.Service, opts ...Option) *Server {
	options := NewOptions(opts...)

	s := &Server{
		options: options,
		service: service,
	}

	router := mux.NewRouter()

	router.HandleFunc("/api/cries", s.recordCry).Methods(http.MethodPost)
	router.HandleFunc("/api/cries/{id}/status", s.cryStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/cries/{id}/label", s.recordLabel).Methods(http.MethodPost)
	router.HandleFunc("/api/cries/{id}/validate", s.validatePrediction).Methods(http.MethodPost)
	router.HandleFunc("/api/cries/{id}/notes", s.updateNotes).Methods(http.MethodPut)
	router.HandleFunc("/api/chat/{id}/message", s.chatMessage).Methods(http.MethodPost)
	router.HandleFunc("/api/chat/{id}/history", s.chatHistory).Methods(http.MethodGet)

	var handler http.Handler = router
	for i := len(options.Middleware) - 1; i >= 0; i-- {
		handler = options.Middleware[i](handler)
	}

	s.server = &http.Server{
		Addr:    options.Address,
		Handler: handler,
	}

	return s
}

func (s *Server) Run() error {
	slog.InfoContext(s.options.Context, "http server listening", "address", s.options.Address)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) recordCry(w http.ResponseWriter, r *http.Request) {
	userId := r.Header.Get("X-User-Id")

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, fault.Invalid("malformed multipart upload"))
		return
	}

	recordedAt, err := time.Parse(time.RFC3339, r.FormValue("recorded_at"))
	if err != nil {
		writeError(w, fault.Invalid("invalid recorded_at, use RFC 3339"))
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, fault.Invalid("audio file is required"))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, err)
		return
	}

	cryId, err := s.service.CreateCry(r.Context(), userId, audio, recordedAt)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"cry_id": cryId,
		"status": string(store.StatusProcessing),
	})
}

func (s *Server) cryStatus(w http.ResponseWriter, r *http.Request) {
	cry, ok := s.ownedCry(w, r)
	if !ok {
		return
	}

	payload, err := s.service.GetStatus(r.Context(), cry.Id)
	if err != nil {
		writeError(w, err)
		return
	}

	res := map[string]any{"status": string(payload.State)}

	switch payload.State {
	case store.StatusFailed:
		res["reason"] = payload.Failure
	case store.StatusReady:
		res["needs_labeling"] = payload.NeedsLabel
		if payload.Prediction != nil {
			res["prediction"] = map[string]any{
				"reason":     payload.Prediction.Reason,
				"solution":   payload.Prediction.Solution,
				"confidence": payload.Prediction.Confidence,
			}
		}
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) recordLabel(w http.ResponseWriter, r *http.Request) {
	cry, ok := s.ownedCry(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason   string `json:"reason"`
		Solution string `json:"solution"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Invalid("malformed request body"))
		return
	}

	updated, err := s.service.RecordLabel(r.Context(), cry.Id, req.Reason, req.Solution)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cryJSON(updated))
}

func (s *Server) validatePrediction(w http.ResponseWriter, r *http.Request) {
	cry, ok := s.ownedCry(w, r)
	if !ok {
		return
	}

	var req struct {
		Accepted bool `json:"accepted"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Invalid("malformed request body"))
		return
	}

	updated, err := s.service.ValidatePrediction(r.Context(), cry.Id, req.Accepted)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cryJSON(updated))
}

func (s *Server) updateNotes(w http.ResponseWriter, r *http.Request) {
	cry, ok := s.ownedCry(w, r)
	if !ok {
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Invalid("malformed request body"))
		return
	}

	updated, err := s.service.UpdateNotes(r.Context(), cry.Id, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cryJSON(updated))
}

func (s *Server) chatMessage(w http.ResponseWriter, r *http.Request) {
	userId := r.Header.Get("X-User-Id")
	cryId := mux.Vars(r)["id"]

	var req struct {
		Message string `json:"message"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Invalid("malformed request body"))
		return
	}

	reply, err := s.service.SubmitChatMessage(r.Context(), cryId, userId, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"bot_response": reply.Text,
		"timestamp":    reply.Timestamp.Format(time.RFC3339Nano),
	})
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	cry, ok := s.ownedCry(w, r)
	if !ok {
		return
	}

	msgs, err := s.service.ChatHistory(r.Context(), cry.Id)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(msgs))
	for _, msg := range msgs {
		items = append(items, map[string]any{
			"message_id": msg.Id,
			"sender":     string(msg.Sender),
			"text":       msg.Text,
			"timestamp":  msg.Timestamp.Format(time.RFC3339Nano),
		})
	}

	writeJSON(w, http.StatusOK, items)
}

// ownedCry loads the cry in the path and enforces that it belongs to the
// calling user. The service never crosses user boundaries; this is where the
// transport layer keeps that promise.
func (s *Server) ownedCry(w http.ResponseWriter, r *http.Request) (store.Cry, bool) {
	userId := r.Header.Get("X-User-Id")
	cryId := mux.Vars(r)["id"]

	cry, err := s.service.GetCry(r.Context(), cryId)
	if err != nil {
		writeError(w, err)
		return store.Cry{}, false
	}

	if cry.UserId != userId {
		writeError(w, fault.ErrForbidden)
		return store.Cry{}, false
	}

	return cry, true
}

func cryJSON(cry store.Cry) map[string]any {
	return map[string]any{
		"cry_id":            cry.Id,
		"recorded_at":       cry.RecordedAt.Format(time.RFC3339Nano),
		"reason":            cry.Reason,
		"reason_source":     string(cry.ReasonSource),
		"solution":          cry.Solution,
		"solution_source":   string(cry.SolutionSource),
		"confidence":        cry.Confidence,
		"validation_status": string(cry.Validation),
		"notes":             cry.Notes,
		"status":            string(cry.Status),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case fault.IsValidation(err):
		status = http.StatusUnprocessableEntity
	case fault.IsRateLimited(err):
		status = http.StatusTooManyRequests
	case fault.IsTransient(err):
		status = http.StatusServiceUnavailable
	case errors.Is(err, fault.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, fault.ErrForbidden):
		status = http.StatusForbidden
	}

	writeJSON(w, status, map[string]any{"detail": err.Error()})
}

// LogRequests is middleware that records each request with slog.
func LogRequests(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h.ServeHTTP(w, r)
		slog.InfoContext(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
