package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mapworks/mapscan/internal/imaging"
	"github.com/mapworks/mapscan/internal/pipeline"
)

// maxUploadBytes caps a single map upload.
const maxUploadBytes = 32 << 20

// ErrorResponse is the JSON envelope for every non-2xx reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SubmitResponse acknowledges an accepted analysis job.
type SubmitResponse struct {
	JobID  string          `json:"job_id"`
	Status pipeline.Status `json:"status"`
}

// Server routes HTTP requests to the pipeline.
type Server struct {
	pipe   *pipeline.Pipeline
	router *mux.Router
}

// New builds the server and its route table.
func New(pipe *pipeline.Pipeline) *Server {
	s := &Server{pipe: pipe}
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/analyze-map", s.handleAnalyze).Methods("POST")
	r.HandleFunc("/api/v1/jobs/{id}", s.handleJob).Methods("GET")
	r.HandleFunc("/api/v1/jobs/{id}/segments/{name}", s.handleSegment).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(r)
	if err != nil {
		sendError(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	job, err := s.pipe.Submit(r.Context(), data)
	if err != nil {
		s.sendPipelineError(w, err)
		return
	}

	sendJSON(w, http.StatusAccepted, SubmitResponse{JobID: job.ID, Status: job.Status})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.pipe.Status(mux.Vars(r)["id"])
	if err != nil {
		s.sendPipelineError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, job)
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	data, err := s.pipe.Segment(vars["id"], vars["name"])
	if err != nil {
		s.sendPipelineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("server: write segment %s: %v", vars["name"], err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readUpload extracts image bytes from a multipart "file" field or, for any
// other content type, from the raw request body.
func readUpload(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, errors.New(`multipart upload needs a "file" field`)
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	return io.ReadAll(r.Body)
}

func (s *Server) sendPipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, imaging.ErrInvalidImage):
		sendError(w, "invalid_image", err.Error(), http.StatusBadRequest)
	case errors.Is(err, pipeline.ErrNotFound):
		sendError(w, "not_found", err.Error(), http.StatusNotFound)
	default:
		log.Printf("server: %v", err)
		sendError(w, "internal_error", "internal error", http.StatusInternalServerError)
	}
}

func sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func sendError(w http.ResponseWriter, code, message string, status int) {
	sendJSON(w, status, ErrorResponse{Code: code, Message: message})
}
