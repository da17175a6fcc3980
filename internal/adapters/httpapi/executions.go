package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"labcore/internal/core"
	"labcore/internal/execution"
	"labcore/pkg/domain"
)

type startRequest struct {
	ProtocolID          string    `json:"protocol_id" binding:"required"`
	VersionID           string    `json:"version_id"`
	ExecutionID         string    `json:"execution_id"`
	ScheduledStart      time.Time `json:"scheduled_start"`
	SkipPreflight       bool      `json:"skip_preflight"`
	AcknowledgeWarnings bool      `json:"acknowledge_warnings"`
}

type startResponse struct {
	Execution domain.ProtocolExecution `json:"execution"`
	Report    domain.GateReport        `json:"report"`
}

// commandRequest is the wire form of every execution command.
type commandRequest struct {
	Type            string `json:"type" binding:"required"`
	StepID          string `json:"step_id"`
	Index           int    `json:"index"`
	Text            string `json:"text"`
	URL             string `json:"url"`
	Message         string `json:"message"`
	Confirmed       bool   `json:"confirmed"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// Command types accepted by POST /executions/:id/commands.
const (
	CommandAdvance = "advance"
	CommandRetreat = "retreat"
	CommandGoTo    = "goto"
	CommandToggle  = "toggle"
	CommandNote    = "note"
	CommandMedia   = "media"
	CommandIssue   = "issue"
	CommandFinish  = "finish"
	CommandAbort   = "abort"
)

func (r commandRequest) command(by domain.Principal) (execution.Command, error) {
	switch r.Type {
	case CommandAdvance:
		return execution.Advance{By: by}, nil
	case CommandRetreat:
		return execution.Retreat{By: by}, nil
	case CommandGoTo:
		return execution.GoTo{By: by, Index: r.Index}, nil
	case CommandToggle:
		return execution.ToggleStep{By: by, StepID: r.StepID}, nil
	case CommandNote:
		return execution.AddNote{By: by, StepID: r.StepID, Text: r.Text}, nil
	case CommandMedia:
		return execution.AttachMedia{By: by, StepID: r.StepID, URL: r.URL}, nil
	case CommandIssue:
		return execution.ReportIssue{By: by, StepID: r.StepID, Message: r.Message}, nil
	case CommandFinish:
		return execution.Finish{By: by, Confirmed: r.Confirmed, DurationSeconds: r.DurationSeconds}, nil
	case CommandAbort:
		return execution.Abort{By: by, Confirmed: r.Confirmed, DurationSeconds: r.DurationSeconds}, nil
	default:
		return nil, &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown command %q", r.Type)}
	}
}

// ListExecutions returns the lab's runs.
func (h *Handler) ListExecutions(c *gin.Context) {
	runs, err := h.svc.ListExecutions(c.Request.Context(), h.principal(c))
	if err != nil {
		h.fail(c, "Could not list executions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": runs})
}

// StartExecution runs pre-flight and starts a run. A refused start answers
// 409 with the gate report.
func (h *Handler) StartExecution(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "details": err.Error()})
		return
	}
	session, report, err := h.svc.StartExecution(c.Request.Context(), h.principal(c), req.ProtocolID, core.StartOptions{
		VersionID:           req.VersionID,
		ExecutionID:         req.ExecutionID,
		ScheduledStart:      req.ScheduledStart,
		SkipPreflight:       req.SkipPreflight,
		AcknowledgeWarnings: req.AcknowledgeWarnings,
	})
	if err != nil {
		h.fail(c, "Could not start execution", err)
		return
	}
	c.JSON(http.StatusCreated, startResponse{Execution: session.Execution(), Report: report})
}

// GetExecution returns one run.
func (h *Handler) GetExecution(c *gin.Context) {
	session, err := h.svc.OpenExecution(c.Request.Context(), h.principal(c), c.Param("id"))
	if err != nil {
		h.fail(c, "Could not load execution", err)
		return
	}
	c.JSON(http.StatusOK, session.Execution())
}

// ApplyCommand applies one command to a run and returns its new state.
func (h *Handler) ApplyCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "details": err.Error()})
		return
	}
	cmd, err := req.command(h.principal(c))
	if err != nil {
		h.fail(c, "Invalid command", err)
		return
	}
	exec, err := h.svc.ApplyCommand(c.Request.Context(), c.Param("id"), cmd)
	if err != nil {
		h.fail(c, "Could not apply command", err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// AttachEvidence accepts a multipart "file" field and records its URL on the step.
func (h *Handler) AttachEvidence(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxEvidenceBytes)
	header, err := c.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing evidence file", "details": err.Error()})
		return
	}
	f, err := header.Open()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Unreadable evidence file", "details": err.Error()})
		return
	}
	defer func() { _ = f.Close() }()

	contentType := header.Header.Get("Content-Type")
	exec, err := h.svc.AttachEvidence(c.Request.Context(), h.principal(c), c.Param("id"), c.Param("step"), f, contentType)
	if err != nil {
		h.fail(c, "Could not attach evidence", err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// OpenEvidence streams an uploaded evidence object. The path is the URL
// recorded on the step when the backend has no URL of its own.
func (h *Handler) OpenEvidence(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	ev, err := h.svc.OpenEvidence(c.Request.Context(), h.principal(c), key)
	if err != nil {
		h.fail(c, "Could not open evidence", err)
		return
	}
	defer func() { _ = ev.Body.Close() }()
	contentType := ev.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, ev.Size, contentType, ev.Body, nil)
}
