package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-portal-api/internal/service"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
	"github.com/noah-isme/school-portal-api/pkg/response"
)

// ReplyHandler serves the reply thread under a communication.
type ReplyHandler struct {
	service *service.ReplyService
}

// NewReplyHandler creates a new handler.
func NewReplyHandler(svc *service.ReplyService) *ReplyHandler {
	return &ReplyHandler{service: svc}
}

// List godoc
// @Summary List replies
// @Description List the reply thread under a communication, oldest first
// @Tags Replies
// @Produce json
// @Param id path int true "Communication ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /communications/{id}/replies [get]
func (h *ReplyHandler) List(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	replies, err := h.service.List(c.Request.Context(), identityFromContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, replies, nil)
}

// Create godoc
// @Summary Post reply
// @Description Post a reply under a board or message communication
// @Tags Replies
// @Accept json
// @Produce json
// @Param id path int true "Communication ID"
// @Param payload body service.CreateReplyRequest true "Reply payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /communications/{id}/replies [post]
func (h *ReplyHandler) Create(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req service.CreateReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reply payload"))
		return
	}

	reply, err := h.service.Create(c.Request.Context(), identityFromContext(c), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, reply)
}

// Delete godoc
// @Summary Delete reply
// @Description Delete a reply (own reply or privileged tier)
// @Tags Replies
// @Produce json
// @Param id path int true "Communication ID"
// @Param replyId path int true "Reply ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /communications/{id}/replies/{replyId} [delete]
func (h *ReplyHandler) Delete(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	replyID, err := strconv.ParseInt(c.Param("replyId"), 10, 64)
	if err != nil || replyID <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid reply id"))
		return
	}

	if err := h.service.Delete(c.Request.Context(), identityFromContext(c), id, replyID); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
