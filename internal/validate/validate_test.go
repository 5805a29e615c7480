package validate

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"reflect"
	"strings"
	"testing"
)

func asErrors(t *testing.T, err error) *Errors {
	t.Helper()
	var ve *Errors
	if !errors.As(err, &ve) {
		t.Fatalf("expected *Errors, got %T: %v", err, err)
	}
	return ve
}

func issueFor(ve *Errors, path ...string) (Issue, bool) {
	for _, is := range ve.Issues {
		if reflect.DeepEqual(is.Path, path) {
			return is, true
		}
	}
	return Issue{}, false
}

// Struct

func TestStruct_SignUpIssues(t *testing.T) {
	err := Struct(&SignUp{
		Name:            "R2-D2!",
		Email:           "not-an-email",
		Password:        "short",
		ConfirmPassword: "different",
		Terms:           false,
	})
	ve := asErrors(t, err)
	if ve.Message != "Validation failed" || ve.Code != CodeValidation {
		t.Fatalf("envelope = %q/%q", ve.Message, ve.Code)
	}

	want := map[string]string{
		"name":            "Name can only contain letters, spaces, hyphens, and apostrophes",
		"email":           "Invalid email address",
		"password":        "Password must be at least 8 characters",
		"confirmPassword": "Passwords do not match",
		"terms":           "You must accept the terms of service",
	}
	for path, msg := range want {
		is, ok := issueFor(ve, path)
		if !ok {
			t.Errorf("missing issue for %s in %+v", path, ve.Issues)
			continue
		}
		if is.Message != msg {
			t.Errorf("%s: message = %q, want %q", path, is.Message, msg)
		}
	}
}

func TestStruct_ValidSignUp(t *testing.T) {
	err := Struct(&SignUp{
		Name:            "Jane O'Neil-Smith",
		Email:           "jane@example.com",
		Password:        "Secr3tPassword",
		ConfirmPassword: "Secr3tPassword",
		Terms:           true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPassword_CharacterClasses(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		want string
	}{
		{"Abcdefg1", true, ""},
		{"abcdefg1", false, "Password must contain at least one lowercase letter, one uppercase letter, and one number"},
		{"ABCDEFG1", false, "Password must contain"},
		{"Abcdefgh", false, "Password must contain"},
		{"Ab1", false, "Password must be at least 8 characters"},
		{strings.Repeat("Ab1", 43), false, "Password must not exceed 128 characters"},
	}
	for _, tt := range tests {
		err := Password(tt.in)
		if tt.ok {
			if err != nil {
				t.Errorf("Password(%q) = %v", tt.in, err)
			}
			continue
		}
		ve := asErrors(t, err)
		if !strings.HasPrefix(ve.Issues[0].Message, tt.want) {
			t.Errorf("Password(%q) message = %q, want prefix %q", tt.in, ve.Issues[0].Message, tt.want)
		}
		if ve.Issues[0].Path[0] != "password" {
			t.Errorf("path = %v", ve.Issues[0].Path)
		}
	}
}

func TestCommonRules(t *testing.T) {
	tests := []struct {
		name string
		err  error
		ok   bool
	}{
		{"username ok", Username("dev_user-1"), true},
		{"username short", Username("ab"), false},
		{"username chars", Username("bad user"), false},
		{"phone e164", Phone("+14155552671"), true},
		{"phone leading zero", Phone("0123"), false},
		{"slug ok", Slug("hello-world-2"), true},
		{"slug upper", Slug("Hello"), false},
		{"slug double dash", Slug("a--b"), false},
		{"uuid ok", UUID("7c9e6679-7425-40de-944b-e07fc1f90ae7"), true},
		{"uuid bad", UUID("123"), false},
		{"url ok", URL("https://example.com/a?b=c"), true},
		{"url bad", URL("not a url"), false},
		{"email long", Email(strings.Repeat("a", 250) + "@x.io"), false},
		{"text ok", Text("hello", 1, 10), true},
		{"text long", Text(strings.Repeat("x", 11), 1, 10), false},
		{"text default max", Text(strings.Repeat("x", 1001), 0, 0), false},
	}
	for _, tt := range tests {
		if (tt.err == nil) != tt.ok {
			t.Errorf("%s: err = %v, want ok=%v", tt.name, tt.err, tt.ok)
		}
	}
}

func TestChangePassword_ConfirmPath(t *testing.T) {
	ve := asErrors(t, Struct(&ChangePassword{
		CurrentPassword: "Old-Passw0rd",
		NewPassword:     "New-Passw0rd",
		ConfirmPassword: "New-Passw0rd!",
	}))
	if len(ve.Issues) != 1 {
		t.Fatalf("issues = %+v", ve.Issues)
	}
	is := ve.Issues[0]
	if !reflect.DeepEqual(is.Path, []string{"confirmPassword"}) || is.Message != "Passwords do not match" {
		t.Fatalf("issue = %+v", is)
	}
}

func TestUpdateProfile_OptionalFields(t *testing.T) {
	if err := Struct(&UpdateProfile{}); err != nil {
		t.Fatalf("empty profile should pass: %v", err)
	}
	bio := strings.Repeat("b", 501)
	ve := asErrors(t, Struct(&UpdateProfile{Bio: &bio}))
	if is, ok := issueFor(ve, "bio"); !ok || is.Message != "Bio must not exceed 500 characters" {
		t.Fatalf("bio issue = %+v", ve.Issues)
	}
}

func TestBulkOperation_IndexedPaths(t *testing.T) {
	ve := asErrors(t, Struct(&BulkOperation{
		IDs:    []string{"7c9e6679-7425-40de-944b-e07fc1f90ae7", "nope"},
		Action: "purge",
	}))
	if is, ok := issueFor(ve, "ids", "1"); !ok || is.Message != "Invalid UUID format" {
		t.Fatalf("ids[1] issue missing: %+v", ve.Issues)
	}
	if is, ok := issueFor(ve, "action"); !ok || is.Message != "Action must be one of: delete, update, archive" {
		t.Fatalf("action issue = %+v", ve.Issues)
	}

	ve = asErrors(t, Struct(&BulkOperation{Action: "delete"}))
	if is, ok := issueFor(ve, "ids"); !ok || is.Message != "Ids must contain at least 1 item" {
		t.Fatalf("empty ids issue = %+v", ve.Issues)
	}
}

func TestErrors_ErrorString(t *testing.T) {
	e := failed(Issue{Path: []string{"ids", "0"}, Message: "Invalid UUID format"})
	if got := e.Error(); got != "Validation failed: ids.0: Invalid UUID format" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestLabel(t *testing.T) {
	tests := map[string]string{
		"":                "Value",
		"email":           "Email",
		"confirmPassword": "Confirm password",
		"post_id":         "Post id",
	}
	for in, want := range tests {
		if got := label(in); got != want {
			t.Errorf("label(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIssuePath(t *testing.T) {
	tests := map[string][]string{
		"SignUp.email":           {"email"},
		"BulkOperation.ids[3]":   {"ids", "3"},
		"Outer.inner.list[0][1]": {"inner", "list", "0", "1"},
		"":                       {},
	}
	for in, want := range tests {
		if got := issuePath(in); !reflect.DeepEqual(got, want) {
			t.Errorf("issuePath(%q) = %v, want %v", in, got, want)
		}
	}
}

// DecodeJSON

func TestDecodeJSON_InvalidJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":`))
	var dst SignIn
	ve := asErrors(t, DecodeJSON(r, &dst))
	if ve.Code != CodeInvalidJSON || ve.Message != "Invalid JSON in request body" {
		t.Fatalf("got %q/%q", ve.Code, ve.Message)
	}
	if ve.Issues == nil {
		t.Fatal("issues should be an empty list, not nil")
	}
}

func TestDecodeJSON_TypeMismatch(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.co","password":"x","remember":"yes"}`))
	var dst SignIn
	ve := asErrors(t, DecodeJSON(r, &dst))
	if ve.Code != CodeValidation {
		t.Fatalf("code = %q", ve.Code)
	}
	if is, ok := issueFor(ve, "remember"); !ok || is.Message != "Expected boolean, received string" {
		t.Fatalf("issues = %+v", ve.Issues)
	}
}

func TestDecodeJSON_ValidatesAfterDecode(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.co"}`))
	var dst SignIn
	ve := asErrors(t, DecodeJSON(r, &dst))
	if is, ok := issueFor(ve, "password"); !ok || is.Message != "Password is required" {
		t.Fatalf("issues = %+v", ve.Issues)
	}
	if dst.Email != "a@b.co" {
		t.Fatalf("decoded email = %q", dst.Email)
	}
}

func TestDecodeJSON_MaxBytesPassthrough(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"`+strings.Repeat("a", 100)+`"}`))
	r.Body = http.MaxBytesReader(rec, r.Body, 10)
	var dst SignIn
	err := DecodeJSON(r, &dst)
	var mbe *http.MaxBytesError
	if !errors.As(err, &mbe) {
		t.Fatalf("expected *http.MaxBytesError, got %T %v", err, err)
	}
}

// DecodeQuery

func TestDecodeQuery_PaginationDefaults(t *testing.T) {
	var p Pagination
	if err := DecodeQuery(url.Values{}, &p); err != nil {
		t.Fatalf("DecodeQuery: %v", err)
	}
	if p.Page != 1 || p.Limit != 10 || p.Order != "desc" || p.Sort != "" {
		t.Fatalf("defaults = %+v", p)
	}
	if p.Offset() != 0 {
		t.Fatalf("Offset = %d", p.Offset())
	}
}

func TestDecodeQuery_PaginationCoercion(t *testing.T) {
	var p Pagination
	err := DecodeQuery(url.Values{"page": {"3"}, "limit": {"25"}, "order": {"asc"}, "sort": {"name"}}, &p)
	if err != nil {
		t.Fatalf("DecodeQuery: %v", err)
	}
	if p.Page != 3 || p.Limit != 25 || p.Order != "asc" || p.Sort != "name" || p.Offset() != 50 {
		t.Fatalf("decoded = %+v", p)
	}
}

func TestDecodeQuery_PaginationInvalid(t *testing.T) {
	var p Pagination
	ve := asErrors(t, DecodeQuery(url.Values{"limit": {"500"}, "order": {"sideways"}}, &p))
	if _, ok := issueFor(ve, "limit"); !ok {
		t.Errorf("missing limit issue: %+v", ve.Issues)
	}
	if _, ok := issueFor(ve, "order"); !ok {
		t.Errorf("missing order issue: %+v", ve.Issues)
	}

	p = Pagination{}
	ve = asErrors(t, DecodeQuery(url.Values{"page": {"abc"}}, &p))
	if is, ok := issueFor(ve, "page"); !ok || is.Message != "Expected number" {
		t.Fatalf("coercion issue = %+v", ve.Issues)
	}
}

type tagQuery struct {
	Tags []string `form:"tag" validate:"max=3"`
}

func TestDecodeQuery_RepeatedKeysFillSlices(t *testing.T) {
	var q tagQuery
	if err := DecodeQuery(url.Values{"tag": {"a", "b"}}, &q); err != nil {
		t.Fatalf("DecodeQuery: %v", err)
	}
	if !reflect.DeepEqual(q.Tags, []string{"a", "b"}) {
		t.Fatalf("Tags = %v", q.Tags)
	}
}

func TestDecodeQuery_SearchFilters(t *testing.T) {
	var s Search
	err := DecodeQuery(url.Values{"q": {"gopher"}, "filters[status]": {"active"}}, &s)
	if err != nil {
		t.Fatalf("DecodeQuery: %v", err)
	}
	if s.Filters["status"] != "active" {
		t.Fatalf("Filters = %v", s.Filters)
	}
}

// DecodeForm / File

func TestDecodeForm_URLEncoded(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("title=Quarterly+report&description=numbers"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var d DocumentUpload
	if err := DecodeForm(r, &d); err != nil {
		t.Fatalf("DecodeForm: %v", err)
	}
	if d.Title != "Quarterly report" {
		t.Fatalf("Title = %q", d.Title)
	}
}

func multipartRequest(t *testing.T, field, filename, contentType string, body []byte, extra map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range extra {
		_ = mw.WriteField(k, v)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	pw, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = pw.Write(body)
	_ = mw.Close()
	r := httptest.NewRequest(http.MethodPost, "/", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func TestDecodeForm_MultipartAndImageRule(t *testing.T) {
	r := multipartRequest(t, "file", "cat.png", "image/png", []byte("\x89PNG\r\n\x1a\n"), map[string]string{"alt": "a cat"})
	var meta ImageUpload
	if err := DecodeForm(r, &meta); err != nil {
		t.Fatalf("DecodeForm: %v", err)
	}
	if meta.Alt != "a cat" {
		t.Fatalf("Alt = %q", meta.Alt)
	}
	fh := r.MultipartForm.File["file"][0]
	if err := File("file", fh, ImageRule); err != nil {
		t.Fatalf("File: %v", err)
	}
}

func TestFile_RejectsTypeAndSize(t *testing.T) {
	r := multipartRequest(t, "file", "x.exe", "application/x-msdownload", []byte("MZ"), nil)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		t.Fatal(err)
	}
	fh := r.MultipartForm.File["file"][0]
	fh.Size = 6 << 20

	ve := asErrors(t, File("file", fh, ImageRule))
	if len(ve.Issues) != 2 {
		t.Fatalf("issues = %+v", ve.Issues)
	}
	if ve.Issues[0].Message != "File size must be less than 5MB" {
		t.Errorf("size message = %q", ve.Issues[0].Message)
	}
	if ve.Issues[1].Message != "File must be a valid image (JPEG, PNG, WebP, or GIF)" {
		t.Errorf("type message = %q", ve.Issues[1].Message)
	}
}

func TestFile_SniffsMissingType(t *testing.T) {
	r := multipartRequest(t, "file", "doc", "", []byte("%PDF-1.7\n"), nil)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		t.Fatal(err)
	}
	fh := r.MultipartForm.File["file"][0]
	if err := File("file", fh, DocumentRule); err != nil {
		t.Fatalf("pdf should be sniffed as application/pdf: %v", err)
	}
}

func TestFile_Missing(t *testing.T) {
	ve := asErrors(t, File("file", nil, DocumentRule))
	if ve.Issues[0].Message != "File is required" {
		t.Fatalf("message = %q", ve.Issues[0].Message)
	}
}

// sanitizers

func TestSanitizers(t *testing.T) {
	if got := SanitizeText(`  <b>Tom & "Jerry"</b> it's <script>x</script> `); got != `Tom &amp; &quot;Jerry&quot; it&#x27;s x` {
		t.Errorf("SanitizeText = %q", got)
	}
	if got := SanitizeText("a < b"); got != "a &lt; b" {
		t.Errorf("SanitizeText(a < b) = %q", got)
	}
	if got := SanitizeSQL(`Robert'); DROP TABLE "users";--\`); got != `Robert) DROP TABLE users--` {
		t.Errorf("SanitizeSQL = %q", got)
	}
	if got := SanitizeFilename("__my  résumé (final).pdf__"); got != "my_r_sum_final_.pdf" {
		t.Errorf("SanitizeFilename = %q", got)
	}
}
