package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adamw/Draft-Commander/internal/jobs"
	"github.com/adamw/Draft-Commander/internal/logger"
	"github.com/adamw/Draft-Commander/internal/queue"
	"github.com/adamw/Draft-Commander/internal/store"
	"github.com/adamw/Draft-Commander/internal/templates"
	"github.com/adamw/Draft-Commander/internal/websocket"
)

const maxUploadBytes = 64 << 20

func AddRoutes(
	mux *http.ServeMux,
	service *queue.Service,
	tpl *templates.Store,
	hub *websocket.Hub,
	inboxDir string,
) {
	mux.HandleFunc("/jobs", correlationMiddleware(handleJobs(service, inboxDir)))
	mux.HandleFunc("/jobs/", correlationMiddleware(handleJobByID(service)))
	mux.HandleFunc("/queue/pause", correlationMiddleware(handleQueueControl(service)))
	mux.HandleFunc("/queue/resume", correlationMiddleware(handleQueueControl(service)))
	mux.HandleFunc("/queue/stats", correlationMiddleware(handleQueueStats(service)))
	mux.HandleFunc("/templates", correlationMiddleware(handleTemplates(tpl)))
	mux.HandleFunc("/templates/", correlationMiddleware(handleTemplateByID(tpl)))
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.HandleWebSocket(hub, w, r)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", HandleHealth)
	mux.HandleFunc("/health/ready", HandleReadiness)
	mux.HandleFunc("/health/live", HandleLiveness)
}

type contextKey string

const correlationKey contextKey = "correlation_id"

func correlationMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), correlationKey, correlationID)
		w.Header().Set("X-Correlation-ID", correlationID)
		next(w, r.WithContext(ctx))
	}
}

func getCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func handleJobs(service *queue.Service, inboxDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := getCorrelationID(r.Context())
		log := logger.WithCorrelationID(correlationID)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Received request")

		switch r.Method {
		case http.MethodGet:
			handleListJobs(w, r, service, correlationID)
		case http.MethodPost:
			handleCreateJob(w, r, service, inboxDir, correlationID)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

// SubmitRequest creates a job from a folder already on disk.
type SubmitRequest struct {
	Folder      string `json:"folder"`
	TemplateID  string `json:"template_id,omitempty"`
	AutoPublish *bool  `json:"auto_publish,omitempty"`
	Price       string `json:"price,omitempty"`
	Condition   string `json:"condition,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

func handleCreateJob(w http.ResponseWriter, r *http.Request, service *queue.Service, inboxDir, correlationID string) {
	log := logger.WithCorrelationID(correlationID)

	var req SubmitRequest
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		folder, err := saveUpload(r, inboxDir)
		if err != nil {
			log.Error().Err(err).Msg("Photo upload failed")
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req = submitRequestFromForm(r)
		req.Folder = folder
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Error().Err(err).Msg("Invalid JSON request")
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	if req.Folder == "" {
		writeError(w, http.StatusBadRequest, "folder is required")
		return
	}

	id, err := service.Submit(req.Folder, queue.Options{
		TemplateID:  req.TemplateID,
		AutoPublish: req.AutoPublish,
		Price:       req.Price,
		Condition:   req.Condition,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		log.Error().Err(err).Str("folder", req.Folder).Msg("Failed to submit job")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := service.Status(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("job_id", id).Msg("Job submitted successfully")
	writeJSON(w, http.StatusCreated, job)
}

// saveUpload stores the request's photo parts in a fresh folder under the
// inbox and returns its path. The folder name comes from the "folder" form
// field, sanitized to its base name.
func saveUpload(r *http.Request, inboxDir string) (string, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", fmt.Errorf("parse upload: %w", err)
	}
	name := filepath.Base(strings.TrimSpace(r.FormValue("folder")))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", errors.New("folder name is required")
	}

	files := r.MultipartForm.File["photos"]
	if len(files) == 0 {
		return "", errors.New("no photos uploaded")
	}

	dir := filepath.Join(inboxDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload folder: %w", err)
	}

	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			return "", fmt.Errorf("open upload %s: %w", fh.Filename, err)
		}
		dst, err := os.Create(filepath.Join(dir, filepath.Base(fh.Filename)))
		if err != nil {
			src.Close()
			return "", fmt.Errorf("save upload %s: %w", fh.Filename, err)
		}
		_, err = io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			return "", fmt.Errorf("save upload %s: %w", fh.Filename, err)
		}
	}
	return dir, nil
}

func submitRequestFromForm(r *http.Request) SubmitRequest {
	req := SubmitRequest{
		TemplateID: r.FormValue("template_id"),
		Price:      r.FormValue("price"),
		Condition:  r.FormValue("condition"),
	}
	if v := r.FormValue("auto_publish"); v != "" {
		b := v == "true" || v == "1"
		req.AutoPublish = &b
	}
	return req
}

func handleListJobs(w http.ResponseWriter, r *http.Request, service *queue.Service, correlationID string) {
	log := logger.WithCorrelationID(correlationID)

	var f store.Filter
	if states := r.URL.Query().Get("state"); states != "" {
		for _, s := range strings.Split(states, ",") {
			f.States = append(f.States, jobs.State(strings.TrimSpace(s)))
		}
	}
	if r.URL.Query().Get("order") == "desc" {
		f.Reverse = true
	}

	list, err := service.List(f)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list jobs")
		writeError(w, http.StatusInternalServerError, "failed to retrieve jobs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

func handleJobByID(service *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := getCorrelationID(r.Context())
		log := logger.WithCorrelationID(correlationID)

		rest := strings.TrimPrefix(r.URL.Path, "/jobs/")
		id, action, _ := strings.Cut(rest, "/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "job ID is required")
			return
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			job, err := service.Status(id)
			if err != nil {
				log.Warn().Str("job_id", id).Msg("Job not found")
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			writeJSON(w, http.StatusOK, job)

		case action == "retry" && r.Method == http.MethodPost:
			if err := service.Retry(id); err != nil {
				log.Warn().Err(err).Str("job_id", id).Msg("Retry rejected")
				writeActionError(w, err)
				return
			}
			job, _ := service.Status(id)
			writeJSON(w, http.StatusOK, job)

		case action == "cancel" && r.Method == http.MethodPost:
			if err := service.Cancel(id); err != nil {
				log.Warn().Err(err).Str("job_id", id).Msg("Cancel rejected")
				writeActionError(w, err)
				return
			}
			job, _ := service.Status(id)
			writeJSON(w, http.StatusOK, job)

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func writeActionError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeError(w, http.StatusConflict, err.Error())
}

func handleQueueControl(service *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		switch {
		case strings.HasSuffix(r.URL.Path, "/pause"):
			service.Pause()
		case strings.HasSuffix(r.URL.Path, "/resume"):
			service.Resume()
		default:
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"paused": service.Paused()})
	}
}

func handleQueueStats(service *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		stats, err := service.Stats()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to compute stats")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"paused": service.Paused(),
			"states": stats,
		})
	}
}

func handleTemplates(tpl *templates.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, tpl.GetAll())
		case http.MethodPost:
			var t templates.Template
			if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
				return
			}
			created, err := tpl.Add(&t)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusCreated, created)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func handleTemplateByID(tpl *templates.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/templates/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "template ID is required")
			return
		}

		switch r.Method {
		case http.MethodGet:
			t, err := tpl.Get(id)
			if err != nil {
				writeError(w, http.StatusNotFound, "template not found")
				return
			}
			writeJSON(w, http.StatusOK, t)

		case http.MethodPatch:
			var p templates.Patch
			if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
				return
			}
			t, err := tpl.Update(id, p)
			if err != nil {
				if errors.Is(err, templates.ErrNotFound) {
					writeError(w, http.StatusNotFound, "template not found")
					return
				}
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, t)

		case http.MethodDelete:
			deleted, err := tpl.Delete(id)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if !deleted {
				writeError(w, http.StatusNotFound, "template not found")
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}
