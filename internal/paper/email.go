package paper

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var emailCheck = validator.New()

func validEmail(email string) bool {
	email = strings.TrimSpace(email)
	return email != "" && emailCheck.Var(email, "email") == nil
}
