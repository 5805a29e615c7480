package validate

import (
	"reflect"
	"regexp"

	"github.com/go-playground/validator/v10"
)

const (
	tagPassword   = "password"
	tagPersonName = "personname"
	tagUsername   = "username"
	tagSlug       = "slug"
	tagPhone      = "phone"
	tagAccepted   = "accepted"
)

var (
	personNameRe = regexp.MustCompile(`^[a-zA-Z\s'-]+$`)
	usernameRe   = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	slugRe       = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	phoneRe      = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
)

func registerRules(v *validator.Validate) {
	// errors only occur for empty tags or nil funcs
	_ = v.RegisterValidation(tagPassword, passwordClasses)
	_ = v.RegisterValidation(tagPersonName, matches(personNameRe))
	_ = v.RegisterValidation(tagUsername, matches(usernameRe))
	_ = v.RegisterValidation(tagSlug, matches(slugRe))
	_ = v.RegisterValidation(tagPhone, matches(phoneRe))
	_ = v.RegisterValidation(tagAccepted, func(fl validator.FieldLevel) bool {
		return fl.Field().Kind() == reflect.Bool && fl.Field().Bool()
	})
}

func matches(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// passwordClasses requires at least one lowercase letter, one uppercase letter and one digit.
// Length is enforced separately with min/max.
func passwordClasses(fl validator.FieldLevel) bool {
	var lower, upper, digit bool
	for _, r := range fl.Field().String() {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	return lower && upper && digit
}
