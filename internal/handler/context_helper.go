package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-portal-api/internal/middleware"
	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/service"
)

func identityFromContext(c *gin.Context) *models.Identity {
	return middleware.Identity(c)
}

func auditMeta(c *gin.Context) service.AuditMeta {
	return service.AuditMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}
