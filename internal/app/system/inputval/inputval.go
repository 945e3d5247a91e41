// Package inputval validates request structs with struct tags.
//
// Tags follow github.com/go-playground/validator; a `label` tag gives the
// human name used in messages and the `json` tag names the field in
// responses. Custom rules: objectid, password, personname, and an email
// rule stricter than the library default.
package inputval

import (
	"errors"
	"fmt"
	"net/mail"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FieldError is one failed rule.
type FieldError struct {
	Field   string
	Message string
}

// Result holds every failed rule, in struct field order.
type Result struct {
	Errors []FieldError
}

// HasErrors reports whether any rule failed.
func (r *Result) HasErrors() bool { return len(r.Errors) > 0 }

// First returns the first message, or "".
func (r *Result) First() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

// All joins every message with "; ".
func (r *Result) All() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(v.RegisterValidation("email", func(fl validator.FieldLevel) bool {
		return IsValidEmail(fl.Field().String())
	}))
	must(v.RegisterValidation("objectid", func(fl validator.FieldLevel) bool {
		return IsValidObjectID(fl.Field().String())
	}))
	must(v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return len(PasswordProblems(fl.Field().String())) == 0
	}))
	must(v.RegisterValidation("personname", func(fl validator.FieldLevel) bool {
		return IsValidPersonName(fl.Field().String())
	}))
	return v
}

// Validate checks s against its `validate` tags.
func Validate(s any) Result {
	err := validate.Struct(s)
	if err == nil {
		return Result{}
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Result{Errors: []FieldError{{Message: err.Error()}}}
	}

	t := reflect.TypeOf(s)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		label := fe.StructField()
		if sf, ok := t.FieldByName(fe.StructField()); ok {
			if l := sf.Tag.Get("label"); l != "" {
				label = l
			}
		}
		out = append(out, FieldError{Field: fe.Field(), Message: message(fe, label)})
	}
	return Result{Errors: out}
}

func message(fe validator.FieldError, label string) string {
	switch fe.Tag() {
	case "required":
		return label + " is required."
	case "max":
		return fmt.Sprintf("%s must be at most %s characters.", label, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters.", label, fe.Param())
	case "email":
		return "A valid email address is required."
	case "objectid":
		return label + " is not a valid identifier."
	case "eqfield":
		return label + " does not match."
	case "personname":
		return label + " may contain only letters, spaces, - or _."
	case "password":
		if p := PasswordProblems(fmt.Sprint(fe.Value())); len(p) > 0 {
			return p[0]
		}
		return label + " is too weak."
	default:
		return label + " is invalid."
	}
}

// IsValidEmail reports whether s is a bare address (no display name) with a
// well-formed local part and domain. Single-label domains are allowed.
func IsValidEmail(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	local, domain := s[:at], s[at+1:]
	for _, part := range []string{local, domain} {
		if part == "" || strings.HasPrefix(part, ".") || strings.HasSuffix(part, ".") || strings.Contains(part, "..") {
			return false
		}
	}
	return true
}

// IsValidObjectID reports whether s is a 24-character hex ObjectID.
func IsValidObjectID(s string) bool {
	_, err := primitive.ObjectIDFromHex(s)
	return err == nil
}

var personNameRe = regexp.MustCompile(`^[\p{L}\s_-]+$`)

// IsValidPersonName reports whether s holds only letters, spaces, "-" and "_".
func IsValidPersonName(s string) bool {
	return personNameRe.MatchString(s)
}

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// PasswordProblems lists every strength rule pw fails, in a fixed order.
func PasswordProblems(pw string) []string {
	var out []string
	if len([]rune(pw)) < MinPasswordLength {
		out = append(out, fmt.Sprintf("Password must be at least %d characters.", MinPasswordLength))
	}
	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			special = true
		}
	}
	if !upper {
		out = append(out, "Password needs an upper-case letter.")
	}
	if !lower {
		out = append(out, "Password needs a lower-case letter.")
	}
	if !digit {
		out = append(out, "Password needs a digit.")
	}
	if !special {
		out = append(out, "Password needs a special character.")
	}
	return out
}
