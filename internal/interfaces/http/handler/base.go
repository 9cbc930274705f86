package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/logger"
	"github.com/erp/procurement/internal/interfaces/http/dto"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error envelope for code, deriving the status from the code
func (h *BaseHandler) Error(c *gin.Context, code, message string, details map[string]string) {
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithDetails(code, message, middleware.GetRequestID(c), details))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeBadRequest, message, nil)
}

// HandleError renders domain errors with their code, message and details.
// Anything else is logged and reported as an internal error without leaking its text.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		h.Error(c, domainErr.Code, domainErr.Message, domainErr.Details)
		return
	}

	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		h.Error(c, dto.ErrCodeBodyTooLarge, "Request body exceeds maximum allowed size", nil)
		return
	}

	logger.L(c.Request.Context()).Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	h.Error(c, dto.ErrCodeInternal, "An unexpected error occurred", nil)
}

// BindJSON decodes the body into req. Malformed JSON is a 400; well-formed
// content failing validation is a VALIDATION_ERROR with one detail per field.
// It writes the response and returns false on failure.
func (h *BaseHandler) BindJSON(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	h.handleBindError(c, err)
	return false
}

// BindQuery is BindJSON for query parameters
func (h *BaseHandler) BindQuery(c *gin.Context, req any) bool {
	err := c.ShouldBindQuery(req)
	if err == nil {
		return true
	}
	h.handleBindError(c, err)
	return false
}

func (h *BaseHandler) handleBindError(c *gin.Context, err error) {
	if verr := middleware.ValidationErrorFrom(err); verr != nil {
		h.HandleError(c, verr)
		return
	}

	var maxBytes *http.MaxBytesError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &maxBytes):
		h.HandleError(c, err)
	case errors.As(err, &syntaxErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		h.Error(c, dto.ErrCodeInvalidJSON, "Request body is not valid JSON", nil)
	case errors.As(err, &typeErr):
		h.Error(c, dto.ErrCodeInvalidJSON, "Request body has a field of the wrong type",
			map[string]string{typeErr.Field: "must be " + typeErr.Type.String()})
	default:
		h.Error(c, dto.ErrCodeBadRequest, "Request could not be decoded", map[string]string{"error": err.Error()})
	}
}

// ParamUUID parses the path parameter name as a UUID, answering 400 when it is malformed
func (h *BaseHandler) ParamUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.Error(c, dto.ErrCodeBadRequest, "Invalid "+name+" format", map[string]string{name: c.Param(name)})
		return uuid.Nil, false
	}
	return id, true
}
