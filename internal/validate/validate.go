// Package validate runs struct-tag validation over request payloads and
// renders failures as a list of issues, each with a field path and a
// human readable message.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeInvalidJSON = "INVALID_JSON"

	msgFailed      = "Validation failed"
	msgInvalidJSON = "Invalid JSON in request body"
)

// Issue is one failed rule. Path is the field path split into segments,
// e.g. ["ids", "2"] for the third element of ids.
type Issue struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

// Errors is the failure result of a validation or decode step.
type Errors struct {
	Message string  `json:"message"`
	Code    string  `json:"code"`
	Issues  []Issue `json:"issues"`
}

func (e *Errors) Error() string {
	if len(e.Issues) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, strings.Join(is.Path, ".")+": "+is.Message)
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

func failed(issues ...Issue) *Errors {
	return &Errors{Message: msgFailed, Code: CodeValidation, Issues: issues}
}

var (
	engineOnce sync.Once
	engine     *validator.Validate
)

// Engine returns the shared validator with custom rules registered.
func Engine() *validator.Validate {
	engineOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(fieldName)
		registerRules(v)
		engine = v
	})
	return engine
}

// fieldName reports the wire name of a struct field: json first, then form.
func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

// Struct validates s and returns *Errors when any rule fails.
func Struct(s any) error {
	err := Engine().Struct(s)
	if err == nil {
		return nil
	}
	return translate(err, "")
}

// Field validates a single value against tag, reporting issues under name.
func Field(name string, value any, tag string) error {
	err := Engine().Var(value, tag)
	if err == nil {
		return nil
	}
	return translate(err, name)
}

// Var is Field without a name; issue paths are empty.
func Var(value any, tag string) error { return Field("", value, tag) }

func translate(err error, name string) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		// InvalidValidationError means a programming error such as passing a nil pointer
		return err
	}
	out := failed()
	for _, fe := range ves {
		path := issuePath(fe.Namespace())
		if name != "" {
			path = []string{name}
		}
		out.Issues = append(out.Issues, Issue{Path: path, Message: message(fe, name)})
	}
	return out
}

// issuePath drops the root struct name and splits indexes into their own segments.
func issuePath(ns string) []string {
	if ns == "" {
		return []string{}
	}
	_, rest, found := strings.Cut(ns, ".")
	if !found {
		return []string{}
	}
	var out []string
	for _, seg := range strings.Split(rest, ".") {
		for {
			i := strings.IndexByte(seg, '[')
			if i < 0 {
				out = append(out, seg)
				break
			}
			if i > 0 {
				out = append(out, seg[:i])
			}
			j := strings.IndexByte(seg, ']')
			if j < i {
				out = append(out, seg[i:])
				break
			}
			out = append(out, seg[i+1:j])
			seg = seg[j+1:]
			if seg == "" {
				break
			}
		}
	}
	return out
}

// label turns a wire name like "confirmPassword" into "Confirm password"
func label(field string) string {
	if field == "" {
		return "Value"
	}
	var b strings.Builder
	for i, r := range field {
		switch {
		case i == 0:
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsUpper(r):
			b.WriteByte(' ')
			b.WriteRune(unicode.ToLower(r))
		case r == '_' || r == '-':
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func message(fe validator.FieldError, name string) string {
	field := fe.Field()
	if name != "" {
		field = name
	}
	lbl := label(field)
	p := fe.Param()
	kind := fe.Kind()

	switch fe.Tag() {
	case "required", "required_with", "required_without":
		return lbl + " is required"
	case "email":
		return "Invalid email address"
	case "url", "http_url":
		return "Invalid URL format"
	case "uuid", "uuid4", "uuid_rfc4122":
		return "Invalid UUID format"
	case tagPhone:
		return "Invalid phone number format"
	case tagPassword:
		return "Password must contain at least one lowercase letter, one uppercase letter, and one number"
	case tagPersonName:
		return "Name can only contain letters, spaces, hyphens, and apostrophes"
	case tagUsername:
		return "Username can only contain letters, numbers, underscores, and hyphens"
	case tagSlug:
		return "Slug must be lowercase letters, numbers, and hyphens only"
	case tagAccepted:
		return "You must accept the terms of service"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", lbl, strings.Join(strings.Fields(p), ", "))
	case "eqfield":
		if strings.Contains(strings.ToLower(fe.StructField()), "password") {
			return "Passwords do not match"
		}
		return fmt.Sprintf("%s must match %s", lbl, label(p))
	case "nefield":
		return fmt.Sprintf("%s must be different from %s", lbl, strings.ToLower(label(p)))
	case "min", "gte":
		switch kind {
		case reflect.String:
			return fmt.Sprintf("%s must be at least %s %s", lbl, p, plural(p, "character"))
		case reflect.Slice, reflect.Array, reflect.Map:
			return fmt.Sprintf("%s must contain at least %s %s", lbl, p, plural(p, "item"))
		default:
			return fmt.Sprintf("%s must be greater than or equal to %s", lbl, p)
		}
	case "max", "lte":
		switch kind {
		case reflect.String:
			return fmt.Sprintf("%s must not exceed %s %s", lbl, p, plural(p, "character"))
		case reflect.Slice, reflect.Array, reflect.Map:
			return fmt.Sprintf("Maximum %s %s allowed", p, plural(p, "item"))
		default:
			return fmt.Sprintf("%s must be less than or equal to %s", lbl, p)
		}
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", lbl, p)
	case "len":
		return fmt.Sprintf("%s must be exactly %s %s", lbl, p, plural(p, "character"))
	}
	return fmt.Sprintf("%s is invalid (%s)", lbl, fe.Tag())
}

func plural(n, word string) string {
	if v, err := strconv.Atoi(n); err == nil && v == 1 {
		return word
	}
	return word + "s"
}
