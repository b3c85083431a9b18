package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"entitlement-api/internal/apperrors"
)

// ErrorBody is the structured error envelope returned to clients: a
// machine-readable kind plus a human-readable detail.
type ErrorBody struct {
	Error                 string `json:"error"`
	Details               string `json:"details,omitempty"`
	ExistingEntitlementID string `json:"existing_entitlement_id,omitempty"`
	Retryable             bool   `json:"retryable,omitempty"`
}

// StatusForKind maps an error kind to its HTTP status code.
func StatusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindDuplicateTransaction:
		return http.StatusConflict
	case apperrors.KindGatewayUnavailable, apperrors.KindInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// ValidationErrorJSON writes the structured error response for a pipeline
// failure. Internal causes are only exposed in debug mode.
func ValidationErrorJSON(c *gin.Context, err error) {
	verr := apperrors.AsValidationError(err)

	body := ErrorBody{
		Error:                 string(verr.Kind),
		Details:               verr.Detail,
		ExistingEntitlementID: verr.EntitlementID,
		Retryable:             apperrors.Retryable(err),
	}

	if gin.Mode() == gin.DebugMode && verr.Err != nil {
		body.Details = body.Details + ": " + verr.Err.Error()
	}

	c.JSON(StatusForKind(verr.Kind), body)
}

// BadRequestJSON writes a 400 with the given detail (missing/invalid params).
func BadRequestJSON(c *gin.Context, details string) {
	c.JSON(http.StatusBadRequest, ErrorBody{
		Error:   "InvalidRequest",
		Details: details,
	})
}
