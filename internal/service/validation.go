package service

import (
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/school-portal-api/internal/models"
)

// NewValidator builds the shared validator instance with the domain tags
// registered. Handlers and services share one instance.
func NewValidator() *validator.Validate {
	v := validator.New()
	RegisterDomainTags(v)
	return v
}

// RegisterDomainTags adds the communication enum tags to a validator.
func RegisterDomainTags(v *validator.Validate) {
	_ = v.RegisterValidation("commtype", func(fl validator.FieldLevel) bool {
		return models.ValidCommunicationType(models.CommunicationType(fl.Field().String()))
	})
	_ = v.RegisterValidation("audience", func(fl validator.FieldLevel) bool {
		return models.ValidAudience(models.Audience(fl.Field().String()))
	})
	_ = v.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		return models.ValidPriority(models.Priority(fl.Field().String()))
	})
	_ = v.RegisterValidation("boardtype", func(fl validator.FieldLevel) bool {
		return models.ValidBoardType(models.BoardType(fl.Field().String()))
	})
	_ = v.RegisterValidation("bulkaction", func(fl validator.FieldLevel) bool {
		return models.ValidBulkAction(models.BulkAction(fl.Field().String()))
	})
}
