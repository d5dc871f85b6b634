package service

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"chatcore/internal/domain"
)

var validate = validator.New()

// validateInput runs struct tag validation and reports failures as domain.ErrInvalidInput.
func validateInput(in any) error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, err.Error())
	}
	return nil
}
