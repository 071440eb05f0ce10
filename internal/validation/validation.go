package validation

import "github.com/go-playground/validator/v10"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct checks the `validate` tags of v.
func Struct(v interface{}) error {
	return validate.Struct(v)
}

// Email reports whether the address is well formed.
func Email(addr string) bool {
	return validate.Var(addr, "required,email") == nil
}
