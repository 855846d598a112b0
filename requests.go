package crmauth

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

// RegisterRequest payload
type RegisterRequest struct {
	Name             string `form:"name" json:"name"`
	Email            string `form:"email" json:"email"`
	Password         string `form:"password" json:"password"`
	OrganizationName string `form:"organization_name" json:"organizationName"`
}

// Validate will run validation rules
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Name,
			validation.Required,
		),
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(6, 0),
		),
		validation.Field(
			&r.OrganizationName,
			validation.Required,
		),
	)
}

// Input returns the authority payload
func (r RegisterRequest) Input() RegisterInput {
	return RegisterInput{
		Name:             strings.TrimSpace(r.Name),
		Email:            strings.TrimSpace(r.Email),
		Password:         r.Password,
		OrganizationName: strings.TrimSpace(r.OrganizationName),
	}
}

// validationError wraps ozzo errors as ErrInvalidInput keeping the per
// field messages in metadata.
func validationError(err error) error {
	if err == nil {
		return nil
	}

	fields := map[string]any{}
	if verrs, ok := err.(validation.Errors); ok {
		for field, ferr := range verrs {
			fields[field] = ferr.Error()
		}
	}

	return newKind(ErrInvalidInput, err.Error(), map[string]any{
		"fields": fields,
	})
}
