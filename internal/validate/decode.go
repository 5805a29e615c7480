package validate

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/form/v4"
)

// multipart bodies beyond this are spooled to disk by net/http
const maxMultipartMemory = 8 << 20

// Defaulter is implemented by request types that carry default values.
// Defaults are applied before decoding so present keys override them.
type Defaulter interface {
	SetDefaults()
}

var (
	formOnce sync.Once
	formDec  *form.Decoder
)

func formDecoder() *form.Decoder {
	formOnce.Do(func() {
		formDec = form.NewDecoder()
	})
	return formDec
}

func applyDefaults(dst any) {
	if d, ok := dst.(Defaulter); ok {
		d.SetDefaults()
	}
}

// DecodeJSON decodes the request body into dst and validates it.
// Malformed JSON yields an INVALID_JSON error; a body cut off by
// http.MaxBytesReader is returned as is.
func DecodeJSON(r *http.Request, dst any) error {
	applyDefaults(dst)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return err
		}
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) && te.Field != "" {
			return failed(Issue{
				Path:    strings.Split(te.Field, "."),
				Message: "Expected " + jsonKind(te.Type) + ", received " + te.Value,
			})
		}
		return &Errors{Message: msgInvalidJSON, Code: CodeInvalidJSON, Issues: []Issue{}}
	}
	return Struct(dst)
}

// jsonKind names a Go type the way JSON payload authors think of it
func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.String:
		return "string"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	}
	return t.String()
}

// DecodeQuery decodes query parameters into dst and validates it.
// Keys that appear more than once fill slice fields; scalar fields take the first value.
func DecodeQuery(values url.Values, dst any) error {
	applyDefaults(dst)
	if err := formDecoder().Decode(dst, values); err != nil {
		var des form.DecodeErrors
		if !errors.As(err, &des) {
			return err
		}
		keys := make([]string, 0, len(des))
		for k := range des {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := failed()
		for _, k := range keys {
			out.Issues = append(out.Issues, Issue{Path: issuePath("x." + k), Message: coerceMessage(des[k])})
		}
		return out
	}
	return Struct(dst)
}

func coerceMessage(err error) string {
	s := err.Error()
	switch {
	case strings.Contains(s, "Boolean"):
		return "Expected boolean"
	case strings.Contains(s, "Integer"), strings.Contains(s, "Float"):
		return "Expected number"
	case strings.Contains(s, "Time"):
		return "Expected date"
	}
	return "Invalid value"
}

// DecodeForm decodes an urlencoded or multipart form body into dst and validates it.
func DecodeForm(r *http.Request, dst any) error {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return &Errors{Message: "Invalid form data", Code: CodeValidation, Issues: []Issue{}}
		}
		return DecodeQuery(r.MultipartForm.Value, dst)
	}
	if err := r.ParseForm(); err != nil {
		return &Errors{Message: "Invalid form data", Code: CodeValidation, Issues: []Issue{}}
	}
	return DecodeQuery(r.PostForm, dst)
}
