package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Machine-readable error codes carried in Error.Code.
const (
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeNotFound       = "NOT_FOUND"
	CodeInvalidState   = "INVALID_STATE"
	CodeQuotaExceeded  = "QUOTA_EXCEEDED"
	CodeNotPaid        = "NOT_PAID"
	CodeMonthsMismatch = "MONTHS_MISMATCH"
	CodePublishFailed  = "PUBLISH_FAILED"
	CodeValidation     = "VALIDATION_ERROR"
	CodeInvalidJSON    = "INVALID_JSON"
	CodeInvalidID      = "INVALID_ID"
	CodeInvalidPayload = "INVALID_PAYLOAD"
	CodeNotConfigured  = "NOT_CONFIGURED"
	CodeCheckoutFailed = "CHECKOUT_FAILED"
	CodeContention     = "CONTENTION"
	CodeInternal       = "INTERNAL_ERROR"
)

// Meta is attached to every response.
type Meta struct {
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
	// Total is set on list responses only.
	Total *int `json:"total,omitempty"`
}

// Error is the error member of a failed response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Envelope wraps every JSON body: exactly one of Data and Error is set.
type Envelope struct {
	Data  any    `json:"data"`
	Error *Error `json:"error"`
	Meta  Meta   `json:"meta"`
}

// NewMeta stamps the current time. An empty requestID gets a fresh UUID so
// every response can be correlated.
func NewMeta(requestID string) Meta {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return Meta{
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// JSON writes env with the given status.
func JSON(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("api: encoding response", "status", status, "error", err)
	}
}

// Success writes data as a successful response.
func Success(w http.ResponseWriter, status int, data any, requestID string) {
	JSON(w, status, Envelope{Data: data, Meta: NewMeta(requestID)})
}

// SuccessList writes a list and reports its length in meta.total.
func SuccessList(w http.ResponseWriter, status int, data any, total int, requestID string) {
	meta := NewMeta(requestID)
	meta.Total = &total
	JSON(w, status, Envelope{Data: data, Meta: meta})
}

// Err writes an error response.
func Err(w http.ResponseWriter, status int, code, message, requestID string) {
	ErrWithDetails(w, status, code, message, nil, requestID)
}

// ErrWithDetails writes an error response carrying details, such as field
// errors or partial sweep counts.
func ErrWithDetails(w http.ResponseWriter, status int, code, message string, details any, requestID string) {
	JSON(w, status, Envelope{
		Error: &Error{Code: code, Message: message, Details: details},
		Meta:  NewMeta(requestID),
	})
}
