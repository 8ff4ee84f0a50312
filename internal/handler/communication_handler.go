package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/service"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
	"github.com/noah-isme/school-portal-api/pkg/response"
)

// CommunicationHandler wires communication endpoints to the services.
type CommunicationHandler struct {
	comms   *service.CommunicationService
	bulk    *service.BulkService
	metrics *service.MetricsService
}

// NewCommunicationHandler creates a new handler. metrics may be nil.
func NewCommunicationHandler(comms *service.CommunicationService, bulk *service.BulkService, metrics *service.MetricsService) *CommunicationHandler {
	return &CommunicationHandler{comms: comms, bulk: bulk, metrics: metrics}
}

// List godoc
// @Summary List communications
// @Description List communications visible to the caller
// @Tags Communications
// @Produce json
// @Param type query string false "Type filter"
// @Param status query string false "Status filter (privileged only)"
// @Param audience query string false "Audience filter"
// @Param priority query string false "Priority filter"
// @Param pinned query bool false "Pinned filter"
// @Param author_id query string false "Author filter"
// @Param search query string false "Search term"
// @Param include_expired query bool false "Include expired records (privileged only)"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /communications [get]
func (h *CommunicationHandler) List(c *gin.Context) {
	req := service.ListCommunicationsRequest{
		Type:     c.Query("type"),
		Status:   c.Query("status"),
		Audience: c.Query("audience"),
		Priority: c.Query("priority"),
		AuthorID: c.Query("author_id"),
		Search:   c.Query("search"),
	}
	if pinned := c.Query("pinned"); pinned != "" {
		if val, err := strconv.ParseBool(pinned); err == nil {
			req.Pinned = &val
		}
	}
	if include := c.Query("include_expired"); include != "" {
		if val, err := strconv.ParseBool(include); err == nil {
			req.IncludeExpired = val
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		req.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		req.PageSize = size
	}

	items, pagination, err := h.comms.List(c.Request.Context(), identityFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get communication
// @Description Get a single communication by id
// @Tags Communications
// @Produce json
// @Param id path int true "Communication ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /communications/{id} [get]
func (h *CommunicationHandler) Get(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	comm, err := h.comms.Get(c.Request.Context(), identityFromContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, comm, nil)
}

// Create godoc
// @Summary Create communication
// @Description Create a communication of any type
// @Tags Communications
// @Accept json
// @Produce json
// @Param payload body service.CreateCommunicationRequest true "Create payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /communications [post]
func (h *CommunicationHandler) Create(c *gin.Context) {
	var req service.CreateCommunicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	comm, err := h.comms.Create(c.Request.Context(), identityFromContext(c), req, auditMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, comm)
}

// Update godoc
// @Summary Update communication
// @Description Update a communication's editable fields
// @Tags Communications
// @Accept json
// @Produce json
// @Param id path int true "Communication ID"
// @Param payload body service.UpdateCommunicationRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /communications/{id} [put]
func (h *CommunicationHandler) Update(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req service.UpdateCommunicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	comm, err := h.comms.Update(c.Request.Context(), identityFromContext(c), id, req, auditMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, comm, nil)
}

// Transition godoc
// @Summary Change communication status
// @Description Move a communication through its lifecycle
// @Tags Communications
// @Accept json
// @Produce json
// @Param id path int true "Communication ID"
// @Param payload body object true "Target status"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /communications/{id}/status [patch]
func (h *CommunicationHandler) Transition(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var payload struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "status required"))
		return
	}

	comm, err := h.comms.Transition(c.Request.Context(), identityFromContext(c), id, models.Status(payload.Status), auditMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, comm, nil)
}

// Delete godoc
// @Summary Delete communication
// @Description Remove a communication (privileged tier only)
// @Tags Communications
// @Produce json
// @Param id path int true "Communication ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /communications/{id} [delete]
func (h *CommunicationHandler) Delete(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.comms.Delete(c.Request.Context(), identityFromContext(c), id, auditMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Bulk godoc
// @Summary Bulk operation
// @Description Apply one action to many communications. Full success is 200,
// partial failure 207, full failure 500; the itemized results are always in
// the body.
// @Tags Communications
// @Accept json
// @Produce json
// @Param payload body models.BulkRequest true "Bulk payload"
// @Success 200 {object} response.Envelope
// @Success 207 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /communications/bulk [post]
func (h *CommunicationHandler) Bulk(c *gin.Context) {
	var req models.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid bulk payload"))
		return
	}

	result, err := h.bulk.Apply(c.Request.Context(), identityFromContext(c), req, auditMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordBulkItems(req.Action, result.TotalSuccess, result.TotalFailed)

	switch {
	case result.TotalFailed == 0:
		response.JSON(c, http.StatusOK, result, nil)
	case result.TotalSuccess == 0:
		c.JSON(http.StatusInternalServerError, response.Envelope{
			Data:  result,
			Error: appErrors.Clone(appErrors.ErrInternal, "all bulk items failed"),
		})
	default:
		response.MultiStatus(c, result)
	}
}

func parseID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "invalid communication id")
	}
	return id, nil
}
