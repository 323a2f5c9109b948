package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/mailrelay/mailrelay/internal/metrics"
	"github.com/mailrelay/mailrelay/internal/observability"
)

// panicMessage is what clients see; the panic value only goes to the log.
const panicMessage = "Internal server error"

// Recovery middleware recovers from panics and logs them
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				panicErr := errors.NewErrorEnvelope("INTERNAL_ERROR", panicMessage).
					WithCorrelationID(GetRequestID(r.Context()))
				panicErr, _ = panicErr.WithSeverity(errors.SeverityCritical)

				metrics.RecordPanic()
				if observability.ServerLogger != nil {
					observability.ServerLogger.Error("Recovered from panic",
						zap.String("panic", fmt.Sprintf("%v", rec)),
						zap.String("request_id", panicErr.CorrelationID),
						zap.String("path", r.URL.Path),
						zap.String("stack_trace", string(debug.Stack())),
					)
				}

				writeErrorResponse(w, panicErr, http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorResponse mirrors the relay error body. It is duplicated here because
// internal/errors imports this package.
type ErrorResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	response := ErrorResponse{
		Status:    "error",
		Message:   envelope.Message,
		Code:      envelope.Code,
		RequestID: envelope.CorrelationID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
