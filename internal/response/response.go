// Package response maps pipeline outcomes onto the small, stable set of
// results callers see. Nothing from an error's text reaches the body.
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/esp-website-sub001/internal/ingest"
	"github.com/ethereum/esp-website-sub001/internal/schema"
	"github.com/ethereum/esp-website-sub001/internal/verify"
)

type Kind int

const (
	Success Kind = iota
	ValidationFailed
	VerificationFailed
	ServiceUnavailable
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case ValidationFailed:
		return "validation_failed"
	case VerificationFailed:
		return "verification_failed"
	default:
		return "service_unavailable"
	}
}

// Result is a caller-facing outcome.
type Result struct {
	Kind   Kind
	Code   string
	Fields map[string]string
}

// Map classifies err. Unknown errors are service faults.
func Map(err error) Result {
	if err == nil {
		return Result{Kind: Success}
	}

	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return Result{Kind: ValidationFailed, Code: ValidationFailed.String(), Fields: verr.Map()}
	}

	var ierr *ingest.Error
	if errors.As(err, &ierr) {
		r := Result{Kind: ValidationFailed, Code: string(ierr.Code), Fields: map[string]string{}}
		if ierr.Field != "" {
			r.Fields[ierr.Field] = string(ierr.Code)
		}
		return r
	}

	if errors.Is(err, verify.ErrFailed) {
		return Result{
			Kind:   VerificationFailed,
			Code:   VerificationFailed.String(),
			Fields: map[string]string{ingest.TokenField: "verification failed"},
		}
	}

	return Result{Kind: ServiceUnavailable, Code: ServiceUnavailable.String()}
}

func (r Result) Status() int {
	switch r.Kind {
	case Success:
		return http.StatusOK
	case ValidationFailed, VerificationFailed:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type okBody struct {
	Status    string `json:"status"`
	AttemptID string `json:"attemptId,omitempty"`
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Body is the JSON document written for r.
func (r Result) Body(attemptID string) any {
	switch r.Kind {
	case Success:
		return okBody{Status: "ok", AttemptID: attemptID}
	case ServiceUnavailable:
		return errorBody{Error: ServiceUnavailable.String()}
	default:
		return errorBody{Error: r.Code, Fields: r.Fields}
	}
}

func Write(w http.ResponseWriter, r Result, attemptID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(r.Status())
	json.NewEncoder(w).Encode(r.Body(attemptID))
}
