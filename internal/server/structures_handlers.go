package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/peakstranding/internal/likes"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/structures"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleSubmitStructure(c *gin.Context) {
	userID, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.limiter.Admit(userID, ratelimit.ClassSubmit); err != nil {
		h.respondError(c, err)
		return
	}

	var request structurePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	stored, err := h.structures.Submit(c.Request.Context(), userID, request.toSubmission())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStructurePayload(stored))
}

func (h *httpHandler) handleSampleStructures(c *gin.Context) {
	userID, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.limiter.Admit(userID, ratelimit.ClassSample); err != nil {
		h.respondError(c, err)
		return
	}

	request := structures.SampleRequest{
		Scene:          c.Query("scene"),
		ExcludePrefabs: structures.ParsePrefabList(c.Query("exclude_prefabs")),
	}
	if raw, present := c.GetQuery("map_id"); present && raw != "" {
		mapID, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_map_id"})
			return
		}
		value := int32(mapID)
		request.MapID = &value
	}
	if raw, present := c.GetQuery("limit"); present && raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		request.Limit = &limit
	}

	rows, err := h.structures.Sample(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]structurePayload, 0, len(rows))
	for _, row := range rows {
		response = append(response, newStructurePayload(row))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleLikeStructure(c *gin.Context) {
	userID, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.limiter.Admit(userID, ratelimit.ClassLike); err != nil {
		h.respondError(c, err)
		return
	}

	structureID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || structureID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_structure_id"})
		return
	}

	var request likeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	requested := 1
	if request.Count != nil {
		requested = *request.Count
	}

	if _, err := h.likes.Apply(c.Request.Context(), userID, structureID, requested); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, code := classifyServiceError(err)
	if status >= http.StatusInternalServerError {
		fields := []zap.Field{zap.Error(err)}
		var structuresErr *structures.ServiceError
		var likesErr *likes.ServiceError
		switch {
		case errors.As(err, &structuresErr):
			fields = append(fields, zap.String("code", structuresErr.Code()))
		case errors.As(err, &likesErr):
			fields = append(fields, zap.String("code", likesErr.Code()))
		}
		h.logger.Error("request failed", fields...)
	}
	c.JSON(status, gin.H{"error": code})
}

func classifyServiceError(err error) (int, string) {
	switch {
	case errors.Is(err, ratelimit.ErrTooManyRequests):
		return http.StatusTooManyRequests, "too_many_requests"
	case errors.Is(err, structures.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, likes.ErrSelfLike):
		return http.StatusBadRequest, "self_like_forbidden"
	case errors.Is(err, structures.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
