package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/vimaru-ai/seatutor-backend/internal/pkg/apierr"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Envelope struct {
	Status   string    `json:"status"`
	Data     any       `json:"data,omitempty"`
	Metadata any       `json:"metadata,omitempty"`
	Error    *APIError `json:"error,omitempty"`
}

func RespondOK(c *gin.Context, data any, metadata any) {
	c.JSON(http.StatusOK, Envelope{Status: "ok", Data: data, Metadata: metadata})
}

// publicMessages holds the client-facing text per error code. Wrapped error
// chains carry upstream bodies, hosts, and model names, so they go to logs
// only, never onto the wire.
var publicMessages = map[string]string{
	"validation_error":        "invalid request",
	"unauthorized":            "authentication required",
	"forbidden":               "permission denied",
	"not_found":               "resource not found",
	"timeout":                 "request timed out",
	"quota_exceeded":          "too many requests",
	"persistence_unavailable": "storage temporarily unavailable",
	"upstream_model_error":    "language model request failed",
	"internal_error":          "unexpected error",
}

func publicMessage(ae *apierr.Error) string {
	// Validation detail echoes the client's own malformed input and is safe
	// to return.
	if ae.Code == "validation_error" && ae.Err != nil {
		return ae.Error()
	}
	if msg, ok := publicMessages[ae.Code]; ok {
		return msg
	}
	return "unexpected error"
}

// RespondError maps a typed error onto the wire envelope. Untyped errors
// become 500 internal_error without leaking detail.
func RespondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	msg := "unexpected error"

	if ae, ok := apierr.AsError(err); ok {
		status = ae.Status
		code = ae.Code
		msg = publicMessage(ae)
	} else if errors.Is(err, gorm.ErrRecordNotFound) {
		status = http.StatusNotFound
		code = "not_found"
		msg = "resource not found"
	}

	c.JSON(status, Envelope{
		Status: "error",
		Error:  &APIError{Code: code, Message: msg},
	})
}
