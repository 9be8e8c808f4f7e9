package dto

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/pulsedeck/backend/internal/domain/canonical"
)

// RegisterValidations installs custom binding validators on gin's shared
// validator engine. Call once during router setup, before serving.
func RegisterValidations() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("sourcetool", validateSourceTool)
}

// validateSourceTool accepts only the closed provider set
func validateSourceTool(fl validator.FieldLevel) bool {
	return canonical.SourceTool(fl.Field().String()).IsValid()
}
