package auth

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/user/taskmanager-go/apperror"
)

// userRules mirrors the user fields that are validated on every write.
type userRules struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Age   int    `json:"age" validate:"gte=0,lte=150"`
}

// passwordRules is checked only when a new plaintext password is staged,
// since the stored value is a hash.
type passwordRules struct {
	Password string `json:"password" validate:"required,min=7,maxbytes=72,nopassword"`
}

// validate is safe for concurrent use and caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names so field detail matches the request body keys.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("nopassword", func(fl validator.FieldLevel) bool {
		return !strings.Contains(strings.ToLower(fl.Field().String()), "password")
	})
	// bcrypt rejects input longer than 72 bytes, whatever the rune count.
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(fl.Field().String()) <= limit
	})
	return v
}

// validateUser runs the write-time rules for u, including the staged password
// if there is one. It returns a ValidationError carrying every failing field.
func validateUser(u *User) error {
	fields := map[string]string{}
	collect(validate.Struct(userRules{Name: u.Name, Email: u.Email, Age: u.Age}), fields)
	if u.pendingPassword != nil {
		collect(validate.Struct(passwordRules{Password: *u.pendingPassword}), fields)
	}
	if len(fields) == 0 {
		return nil
	}
	return apperror.NewValidationError("User validation failed", nil).WithFields(fields)
}

func collect(err error, fields map[string]string) {
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fields["_"] = err.Error()
		return
	}
	for _, fe := range verrs {
		fields[fe.Field()] = describe(fe)
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "is invalid"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "maxbytes":
		return fmt.Sprintf("must be at most %s bytes", fe.Param())
	case "gte":
		return fmt.Sprintf("must be %s or greater", fe.Param())
	case "lte":
		return fmt.Sprintf("must be %s or less", fe.Param())
	case "nopassword":
		return `must not contain "password"`
	default:
		return "failed " + fe.Tag()
	}
}
