// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finchley/docflow/internal/domain"
	"github.com/finchley/docflow/internal/metrics"
	"github.com/finchley/docflow/internal/selector"
	"github.com/finchley/docflow/internal/transport/middleware"
)

// maxUploadBytes caps document uploads at 32 MiB.
const maxUploadBytes = 32 << 20

type selectWorkflowRequest struct {
	Mode       string `json:"mode"`
	WorkflowID string `json:"workflow_id"`
	Category   string `json:"category"`
	Execute    bool   `json:"execute"`
}

type decisionRequest struct {
	Decision   string `json:"decision"`
	ApproverID string `json:"approver_id"`
	Reason     string `json:"reason"`
}

type workflowRequest struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Category string        `json:"category"`
	Template bool          `json:"template"`
	Steps    []domain.Step `json:"steps"`
}

type Deps struct {
	Documents DocumentStore
	Workflows WorkflowAdmin
	Approvals ApprovalReader
	Events    EventStreamer
	Blobs     BlobUploader
	Runner    WorkflowRunner
	Gate      DecisionGate
	Selector  WorkflowSelector
	Health    HealthChecker

	Logger     *slog.Logger
	AdminToken string
	Version    string
	Commit     string
	BuildDate  string

	// UploadLimitPerMinute throttles POST /documents per client address.
	// Zero or negative disables the limiter.
	UploadLimitPerMinute int
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Error("health check failed", "error", err)
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- WORKFLOW ADMIN ----------------

	if deps.Workflows != nil {
		r.Route("/workflows", func(admin chi.Router) {
			admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

			admin.Post("/", func(w http.ResponseWriter, r *http.Request) {
				reqBody, err := decodeJSON[workflowRequest](r)
				if err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				wf := workflowFromRequest(reqBody)
				if err := deps.Workflows.CreateWorkflow(r.Context(), wf); err != nil {
					if errors.Is(err, domain.ErrInvalidWorkflow) || errors.Is(err, domain.ErrInvalidStep) {
						http.Error(w, err.Error(), http.StatusBadRequest)
						return
					}
					logger.Error("create workflow failed", "error", err)
					http.Error(w, "failed to create workflow", http.StatusInternalServerError)
					return
				}

				writeJSON(w, http.StatusCreated, wf)
			})

			admin.Get("/", func(w http.ResponseWriter, r *http.Request) {
				wfs, err := deps.Workflows.ListWorkflows(r.Context())
				if err != nil {
					logger.Error("list workflows failed", "error", err)
					http.Error(w, "failed to list workflows", http.StatusInternalServerError)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"workflows": wfs})
			})

			admin.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id, err := uuid.Parse(chi.URLParam(r, "id"))
				if err != nil {
					http.Error(w, "invalid workflow ID", http.StatusBadRequest)
					return
				}

				wf, err := deps.Workflows.GetWorkflow(r.Context(), id)
				if err != nil {
					if errors.Is(err, domain.ErrWorkflowNotFound) {
						http.Error(w, "workflow not found", http.StatusNotFound)
						return
					}
					logger.Error("get workflow failed", "workflow_id", id, "error", err)
					http.Error(w, "failed to get workflow", http.StatusInternalServerError)
					return
				}
				writeJSON(w, http.StatusOK, wf)
			})

			admin.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id, err := uuid.Parse(chi.URLParam(r, "id"))
				if err != nil {
					http.Error(w, "invalid workflow ID", http.StatusBadRequest)
					return
				}

				reqBody, err := decodeJSON[workflowRequest](r)
				if err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				wf := workflowFromRequest(reqBody)
				wf.ID = id
				if err := deps.Workflows.UpdateWorkflow(r.Context(), wf); err != nil {
					switch {
					case errors.Is(err, domain.ErrWorkflowNotFound):
						http.Error(w, "workflow not found", http.StatusNotFound)
					case errors.Is(err, domain.ErrInvalidWorkflow), errors.Is(err, domain.ErrInvalidStep):
						http.Error(w, err.Error(), http.StatusBadRequest)
					default:
						logger.Error("update workflow failed", "workflow_id", id, "error", err)
						http.Error(w, "failed to update workflow", http.StatusInternalServerError)
					}
					return
				}
				writeJSON(w, http.StatusOK, wf)
			})

			admin.Post("/{id}/status", func(w http.ResponseWriter, r *http.Request) {
				id, err := uuid.Parse(chi.URLParam(r, "id"))
				if err != nil {
					http.Error(w, "invalid workflow ID", http.StatusBadRequest)
					return
				}

				reqBody, err := decodeJSON[struct {
					Status string `json:"status"`
				}](r)
				if err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				status := domain.WorkflowStatus(strings.ToUpper(strings.TrimSpace(reqBody.Status)))
				switch status {
				case domain.WorkflowDraft, domain.WorkflowActive, domain.WorkflowInactive:
				default:
					http.Error(w, "invalid workflow status", http.StatusBadRequest)
					return
				}

				if err := deps.Workflows.UpdateWorkflowStatus(r.Context(), id, status); err != nil {
					if errors.Is(err, domain.ErrWorkflowNotFound) {
						http.Error(w, "workflow not found", http.StatusNotFound)
						return
					}
					logger.Error("update workflow status failed", "workflow_id", id, "error", err)
					http.Error(w, "failed to update workflow status", http.StatusInternalServerError)
					return
				}

				writeJSON(w, http.StatusOK, map[string]string{
					"id":     id.String(),
					"status": string(status),
				})
			})
		})
	}

	// ---------------- DOCUMENTS ----------------

	r.With(middleware.UploadRateLimit(deps.UploadLimitPerMinute, logger)).Post("/documents", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			http.Error(w, "invalid multipart upload", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file field", http.StatusBadRequest)
			return
		}
		defer file.Close()

		mimeType := header.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		doc := &domain.Document{
			ID:         uuid.New(),
			Filename:   header.Filename,
			MimeType:   mimeType,
			SizeBytes:  header.Size,
			Status:     domain.DocumentUploaded,
			StorageKey: fmt.Sprintf("docs/%s/%s", uuid.New(), header.Filename),
		}

		if err := deps.Blobs.Upload(r.Context(), doc.StorageKey, file, mimeType); err != nil {
			logger.Error("upload blob failed", "filename", doc.Filename, "error", err)
			http.Error(w, "failed to store document", http.StatusInternalServerError)
			return
		}

		if err := deps.Documents.CreateDocument(r.Context(), doc); err != nil {
			logger.Error("create document failed", "filename", doc.Filename, "error", err)
			http.Error(w, "failed to create document", http.StatusInternalServerError)
			return
		}

		logger.Info("document uploaded via API",
			"document_id", doc.ID,
			"filename", doc.Filename,
			"size_bytes", doc.SizeBytes,
		)
		writeJSON(w, http.StatusCreated, doc)
	})

	r.Get("/documents", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		docs, err := deps.Documents.ListDocuments(r.Context(), limit, offset)
		if err != nil {
			logger.Error("list documents failed", "error", err)
			http.Error(w, "failed to list documents", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
	})

	r.Get("/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		doc, ok := loadDocument(w, r, deps, logger)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, doc)
	})

	// ---------------- WORKFLOW SELECTION ----------------

	r.Post("/documents/{id}/select-workflow", func(w http.ResponseWriter, r *http.Request) {
		doc, ok := loadDocument(w, r, deps, logger)
		if !ok {
			return
		}

		reqBody, err := decodeJSON[selectWorkflowRequest](r)
		if err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		opts := selector.Options{
			Mode:             selector.Mode(strings.ToLower(strings.TrimSpace(reqBody.Mode))),
			ExplicitCategory: strings.TrimSpace(reqBody.Category),
		}
		if raw := strings.TrimSpace(reqBody.WorkflowID); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				http.Error(w, "invalid workflow_id", http.StatusBadRequest)
				return
			}
			opts.ExplicitID = &id
		}

		sel, err := deps.Selector.Select(r.Context(), doc, opts)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrWorkflowInactive):
				http.Error(w, "selected workflow is not active", http.StatusConflict)
			case errors.Is(err, domain.ErrWorkflowNotFound):
				http.Error(w, "no workflow available for selection", http.StatusNotFound)
			default:
				logger.Error("select workflow failed", "document_id", doc.ID, "error", err)
				http.Error(w, "failed to select workflow", http.StatusInternalServerError)
			}
			return
		}

		attached, err := deps.Documents.AttachExecution(r.Context(), doc.ID, sel.WorkflowID)
		if err != nil {
			logger.Error("attach execution failed", "document_id", doc.ID, "error", err)
			http.Error(w, "failed to attach execution", http.StatusInternalServerError)
			return
		}
		if !attached {
			http.Error(w, "document already has an execution", http.StatusConflict)
			return
		}

		if reqBody.Execute {
			if err := deps.Runner.Execute(r.Context(), doc.ID, sel.WorkflowID); err != nil {
				logger.Error("execute after selection failed", "document_id", doc.ID, "error", err)
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"document_id": doc.ID.String(),
			"selection":   sel,
			"executed":    reqBody.Execute,
		})
	})

	// ---------------- EXECUTION ----------------

	r.Post("/documents/{id}/execute", func(w http.ResponseWriter, r *http.Request) {
		doc, ok := loadDocument(w, r, deps, logger)
		if !ok {
			return
		}
		if doc.Execution == nil {
			http.Error(w, "document has no attached execution, select a workflow first", http.StatusConflict)
			return
		}

		if err := deps.Runner.Execute(r.Context(), doc.ID, doc.Execution.WorkflowID); err != nil {
			switch {
			case errors.Is(err, domain.ErrWorkflowInactive):
				http.Error(w, "workflow is not active", http.StatusConflict)
			case errors.Is(err, domain.ErrWorkflowNotFound):
				http.Error(w, "workflow not found", http.StatusNotFound)
			default:
				logger.Error("execute failed", "document_id", doc.ID, "error", err)
				http.Error(w, "workflow execution failed", http.StatusInternalServerError)
			}
			return
		}

		refreshed, err := deps.Documents.GetDocument(r.Context(), doc.ID)
		if err != nil {
			logger.Error("reload document failed", "document_id", doc.ID, "error", err)
			http.Error(w, "failed to load execution state", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, refreshed.Execution)
	})

	r.Get("/documents/{id}/execution", func(w http.ResponseWriter, r *http.Request) {
		doc, ok := loadDocument(w, r, deps, logger)
		if !ok {
			return
		}
		if doc.Execution == nil {
			http.Error(w, "document has no execution", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, doc.Execution)
	})

	// ---------------- APPROVALS ----------------

	r.Get("/documents/{id}/approvals", func(w http.ResponseWriter, r *http.Request) {
		doc, ok := loadDocument(w, r, deps, logger)
		if !ok {
			return
		}

		approvals, err := deps.Approvals.ListApprovalsForDocument(r.Context(), doc.ID)
		if err != nil {
			logger.Error("list approvals failed", "document_id", doc.ID, "error", err)
			http.Error(w, "failed to list approvals", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"approvals": approvals})
	})

	r.Get("/approvals/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid approval ID", http.StatusBadRequest)
			return
		}

		approval, err := deps.Approvals.GetApproval(r.Context(), id)
		if err != nil {
			if errors.Is(err, domain.ErrApprovalNotFound) {
				http.Error(w, "approval not found", http.StatusNotFound)
				return
			}
			logger.Error("get approval failed", "approval_id", id, "error", err)
			http.Error(w, "failed to get approval", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, approval)
	})

	r.Post("/approvals/{id}/decision", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid approval ID", http.StatusBadRequest)
			return
		}

		reqBody, err := decodeJSON[decisionRequest](r)
		if err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		decision := domain.Decision(strings.ToLower(strings.TrimSpace(reqBody.Decision)))
		approval, err := deps.Gate.ProcessDecision(r.Context(), id, decision,
			strings.TrimSpace(reqBody.ApproverID), strings.TrimSpace(reqBody.Reason))
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrApprovalNotFound):
				http.Error(w, "approval not found", http.StatusNotFound)
			case errors.Is(err, domain.ErrInvalidDecision):
				http.Error(w, "decision must be approve or reject", http.StatusBadRequest)
			case errors.Is(err, domain.ErrApprovalNotPending):
				http.Error(w, "approval already decided", http.StatusConflict)
			case errors.Is(err, domain.ErrApprovalExpired):
				http.Error(w, "approval has expired", http.StatusGone)
			default:
				logger.Error("process decision failed", "approval_id", id, "error", err)
				http.Error(w, "failed to process decision", http.StatusInternalServerError)
			}
			return
		}

		logger.Info("approval decided via API",
			"approval_id", id,
			"decision", decision,
			"status", approval.Status,
		)
		writeJSON(w, http.StatusOK, approval)
	})

	// ---------------- STREAM EVENTS (SSE) ----------------

	r.Get("/documents/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		doc, ok := loadDocument(w, r, deps, logger)
		if !ok {
			return
		}

		if deps.Events == nil {
			logger.Error("sse events repository is not configured")
			http.Error(w, "failed to stream events", http.StatusInternalServerError)
			return
		}

		cursor, err := parseEventsCursor(r.URL.Query().Get("since_seq"))
		if err != nil {
			http.Error(w, "invalid since_seq", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		writeEvents := func() error {
			events, err := deps.Events.ListEventsAfter(r.Context(), doc.ID, cursor, 200)
			if err != nil {
				return err
			}

			for _, ev := range events {
				payload, err := json.Marshal(ev)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(w, "event: workflow_update\ndata: %s\n\n", payload); err != nil {
					return err
				}
				flusher.Flush()
				cursor = ev.Seq
			}

			return nil
		}

		if err := writeEvents(); err != nil {
			logger.Error("sse initial write failed", "document_id", doc.ID, "error", err)
			return
		}

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if err := writeEvents(); err != nil {
					logger.Error("sse write failed", "document_id", doc.ID, "error", err)
					return
				}
			}
		}
	})

	return r
}

// loadDocument parses the {id} URL param and fetches the document, writing
// the error response itself when anything fails.
func loadDocument(w http.ResponseWriter, r *http.Request, deps Deps, logger *slog.Logger) (*domain.Document, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid document ID", http.StatusBadRequest)
		return nil, false
	}

	doc, err := deps.Documents.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)
			return nil, false
		}
		logger.Error("get document failed", "document_id", id, "error", err)
		http.Error(w, "failed to get document", http.StatusInternalServerError)
		return nil, false
	}
	return doc, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes a single JSON object from the request body. An empty
// body yields the zero value.
func decodeJSON[T any](r *http.Request) (T, error) {
	var req T
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, nil
		}
		var zero T
		return zero, err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		var zero T
		return zero, errors.New("request body must contain exactly one JSON object")
	}

	return req, nil
}

func workflowFromRequest(req workflowRequest) *domain.WorkflowDefinition {
	status := domain.WorkflowStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if status == "" {
		status = domain.WorkflowDraft
	}
	return &domain.WorkflowDefinition{
		Name:     strings.TrimSpace(req.Name),
		Status:   status,
		Trigger:  domain.TriggerRule{Category: strings.TrimSpace(req.Category)},
		Template: req.Template,
		Steps:    req.Steps,
	}
}

func parseEventsCursor(since string) (int64, error) {
	since = strings.TrimSpace(since)
	if since == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(since, 10, 64)
	if err != nil || seq < 0 {
		return 0, errors.New("invalid since_seq")
	}
	return seq, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
