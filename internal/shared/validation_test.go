package shared

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

type signupForm struct {
	FirstName            string `validate:"required"`
	Email                string `validate:"required,email"`
	Password             string `validate:"min=8"`
	PasswordConfirmation string `validate:"eqfield=Password"`
}

func TestFieldErrors(t *testing.T) {
	err := validator.New().Struct(signupForm{Email: "nope", Password: "short", PasswordConfirmation: "x"})
	fields := FieldErrors(err)
	assert.Equal(t, "The first name field is required.", fields["first_name"])
	assert.Equal(t, "The email must be a valid email address.", fields["email"])
	assert.Equal(t, "The password must be at least 8 characters.", fields["password"])
	assert.Equal(t, "The password confirmation does not match.", fields["password_confirmation"])
}

func TestFieldErrorsGeneral(t *testing.T) {
	fields := FieldErrors(errors.New("boom"))
	assert.Equal(t, "boom", fields["general"])
	assert.Empty(t, FieldErrors(nil))
}
