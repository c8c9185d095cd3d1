// Package handler exposes the tutoring service as a JSON HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/socratic/internal/model"
	"github.com/pavelanni/socratic/internal/store"
	"github.com/pavelanni/socratic/internal/tutor"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	tutor *tutor.Service
	store *store.Store
}

// New creates a new Handler.
func New(t *tutor.Service, s *store.Store) *Handler {
	return &Handler{tutor: t, store: s}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tests", h.handleCreateTest)
		r.Post("/chat", h.handleChat)

		r.Route("/tests/{code}", func(r chi.Router) {
			r.Post("/start", h.handleStartTest)
			r.Post("/finish", h.handleFinishTest)
			r.Get("/results", h.handleListResults)
			r.Get("/export", h.handleExportResults)

			r.Route("/questions/{index}", func(r chi.Router) {
				r.Get("/", h.handleGetQuestion)
				r.Get("/history", h.handleHistory)
				r.Post("/answer", h.handleSubmitAnswer)
			})
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	var imp model.TestImport
	if !readJSON(w, r, &imp) {
		return
	}
	if imp.Name == "" || len(imp.Questions) == 0 {
		writeError(w, http.StatusBadRequest, "name and questions are required")
		return
	}
	if imp.Code == "" {
		imp.Code = strings.ToUpper(uuid.NewString()[:8])
	}
	existing, err := h.store.GetTestByCode(imp.Code)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "a test with this code already exists")
		return
	}
	id, err := h.store.CreateTest(imp)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "code": imp.Code})
}

type startRequest struct {
	Username string `json:"username"`
}

func (h *Handler) handleStartTest(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !readJSON(w, r, &req) {
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	res, err := h.tutor.StartTest(r.Context(), username, chi.URLParam(r, "code"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type chatRequest struct {
	Username      string `json:"username"`
	TestCode      string `json:"test_code"`
	QuestionIndex int    `json:"question_index"`
	Query         string `json:"query"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.TestCode == "" {
		writeError(w, http.StatusBadRequest, "username and test_code are required")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}
	reply, err := h.tutor.ProcessQuery(r.Context(), req.Username, req.TestCode, req.QuestionIndex, req.Query)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type answerRequest struct {
	Username string `json:"username"`
	Answer   string `json:"answer"`
}

func (h *Handler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	index, ok := questionIndex(w, r)
	if !ok {
		return
	}
	var req answerRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if strings.TrimSpace(req.Answer) == "" {
		writeError(w, http.StatusBadRequest, "answer must not be empty")
		return
	}
	res, err := h.tutor.SubmitAnswer(r.Context(), req.Username, chi.URLParam(r, "code"), index, req.Answer)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleFinishTest(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	res, err := h.tutor.FinishTest(r.Context(), req.Username, chi.URLParam(r, "code"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	index, ok := questionIndex(w, r)
	if !ok {
		return
	}
	view, err := h.tutor.GetQuestion(chi.URLParam(r, "code"), index)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	index, ok := questionIndex(w, r)
	if !ok {
		return
	}
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		writeError(w, http.StatusBadRequest, "username query parameter is required")
		return
	}
	history, err := h.tutor.History(r.Context(), username, chi.URLParam(r, "code"), index)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (h *Handler) handleListResults(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	test, err := h.store.GetTestByCode(code)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	if test == nil {
		writeError(w, http.StatusNotFound, "test not found")
		return
	}
	results, err := h.store.ListTestResults(code)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"test": test, "results": results})
}

func (h *Handler) handleExportResults(w http.ResponseWriter, r *http.Request) {
	export, err := h.store.ExportResults(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func questionIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid question index")
		return 0, false
	}
	return index, true
}

// serviceError maps service errors to HTTP statuses.
func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tutor.ErrTestNotFound), errors.Is(err, tutor.ErrQuestionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tutor.ErrNoActiveSession):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
