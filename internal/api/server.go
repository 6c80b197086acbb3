// internal/api/server.go
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	stderrors "tpr-pipeline/internal/common/errors"
	"tpr-pipeline/internal/common/logger"
	"tpr-pipeline/internal/models"
	"tpr-pipeline/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxUploadBytes caps dataset uploads at 64 MB.
const maxUploadBytes = 64 << 20

// Server exposes the conversational pipeline over HTTP:
//
//	POST   /sessions                          upload a dataset, open a session
//	POST   /sessions/{id}/messages            advance the conversation
//	GET    /sessions/{id}                     session state + current prompt
//	GET    /sessions/{id}/artifacts/{type}    download a bundle artifact
//	DELETE /sessions/{id}                     cancel the session
type Server struct {
	service *service.Service
	logger  logger.Logger
}

func NewServer(svc *service.Service, log logger.Logger) *Server {
	return &Server{
		service: svc,
		logger:  log.With(map[string]interface{}{"component": "api"}),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.handleIngest)
	mux.HandleFunc("POST /sessions/{id}/messages", s.handleAdvance)
	mux.HandleFunc("GET /sessions/{id}", s.handleStatus)
	mux.HandleFunc("GET /sessions/{id}/artifacts/{type}", s.handleDownload)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleCancel)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = "dataset.csv"
	}

	content, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read upload"})
		return
	}

	reply, err := s.service.Ingest(r.Context(), filename, content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	reply, err := s.service.Advance(r.Context(), r.PathValue("id"), body.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, prompt, err := s.service.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": sess,
		"prompt":  prompt,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	artifactType := models.ArtifactType(r.PathValue("type"))
	info, data, err := s.service.Download(r.Context(), r.PathValue("id"), artifactType)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", info.MediaType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+info.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Cancel(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var stdErr *stderrors.StandardError
	status := http.StatusInternalServerError

	if e, ok := err.(*stderrors.StandardError); ok {
		stdErr = e
		switch e.Code {
		case stderrors.ErrCodeDataValidationFailed, stderrors.ErrCodeRegionNotRecognized:
			status = http.StatusUnprocessableEntity
		case stderrors.ErrCodeSessionNotFound, stderrors.ErrCodeDatasetNotFound:
			status = http.StatusNotFound
		case stderrors.ErrCodeSessionBusy:
			status = http.StatusConflict
		case stderrors.ErrCodeArtifactNotReady, stderrors.ErrCodeSessionStateError,
			stderrors.ErrCodeSessionCancelled:
			status = http.StatusConflict
		}
	} else {
		stdErr = &stderrors.StandardError{
			Code:    stderrors.ErrCodeInternal,
			Message: err.Error(),
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"code":  string(stdErr.Code),
			"error": stdErr.Message,
		})
	}
	writeJSON(w, status, map[string]interface{}{"error": stdErr})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
