package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/slicer/internal/core"
	"github.com/orrn/slicer/internal/mesh"
)

const (
	CodeInvalidParameters = "INVALID_PARAMETERS"
	CodeModelNotFound     = "MODEL_NOT_FOUND"
	CodeModelInUse        = "MODEL_IN_USE"
	CodeModelTooLarge     = "MODEL_TOO_LARGE"
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeInternalError     = "INTERNAL_ERROR"
)

// Response is the envelope every API answer is wrapped in.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{Success: false, Error: message, ErrorCode: code})
}

// respondErr maps domain errors to status codes. Unknown errors are logged
// and reported as INTERNAL_ERROR without their text.
func respondErr(c *gin.Context, err error) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, Response{
			Error:     verr.Error(),
			ErrorCode: CodeInvalidParameters,
			Details:   verr,
		})
	case errors.Is(err, core.ErrModelNotFound):
		respondError(c, http.StatusNotFound, CodeModelNotFound, err.Error())
	case errors.Is(err, core.ErrJobNotFound):
		respondError(c, http.StatusNotFound, CodeJobNotFound, err.Error())
	case errors.Is(err, core.ErrModelInUse):
		respondError(c, http.StatusConflict, CodeModelInUse, err.Error())
	case errors.Is(err, core.ErrModelTooLarge):
		respondError(c, http.StatusUnprocessableEntity, CodeModelTooLarge, err.Error())
	case errors.Is(err, core.ErrInvalidTransition):
		respondError(c, http.StatusConflict, CodeInvalidTransition, err.Error())
	case errors.Is(err, mesh.ErrUnsupportedFormat):
		respondError(c, http.StatusUnsupportedMediaType, CodeUnsupportedFormat, err.Error())
	case errors.Is(err, core.ErrFileTooLarge):
		respondError(c, http.StatusRequestEntityTooLarge, CodeFileTooLarge, err.Error())
	case errors.Is(err, mesh.ErrEmptyMesh), errors.Is(err, mesh.ErrMalformedMesh):
		respondError(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	default:
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, CodeInternalError, "internal server error")
	}
}

func badRequest(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, CodeInvalidRequest, message)
}
