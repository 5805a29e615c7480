// Package usersapi is the demo API behind the security pipeline. Nothing is
// persisted; handlers validate input and echo simulated records.
package usersapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keithlinneman/webguard/internal/apierr"
	"github.com/keithlinneman/webguard/internal/authn"
	"github.com/keithlinneman/webguard/internal/httpmw"
	"github.com/keithlinneman/webguard/internal/log"
	"github.com/keithlinneman/webguard/internal/ratelimit"
	"github.com/keithlinneman/webguard/internal/validate"
)

const simulatedTotal = 1000

// Limits applied by the users endpoints on top of the API tier.
var (
	UsersLimit = ratelimit.Config{
		Name:    "users",
		Window:  time.Minute,
		Max:     10,
		Message: ratelimit.API.Message,
	}
	UsersDeleteLimit = ratelimit.Config{
		Name:    "users_delete",
		Window:  time.Hour,
		Max:     5,
		Message: "Too many delete requests, please try again later",
	}
	// sign-up attempts are held to a short and a long sliding window
	SignupShortLimit = ratelimit.Config{
		Name:    "signup_minute",
		Window:  time.Minute,
		Max:     3,
		Message: "Too many sign-up attempts, please try again later",
	}
	SignupLongLimit = ratelimit.Config{
		Name:    "signup_hour",
		Window:  time.Hour,
		Max:     10,
		Message: "Too many sign-up attempts, please try again later",
	}
)

// ValidationRecorder counts rejected payloads by route.
type ValidationRecorder interface {
	IncValidationFailure(route string)
}

type Options struct {
	Logger    log.Logger
	Responder apierr.Responder
	// Store backs the endpoint limiters; nil uses in-memory counters
	Store         ratelimit.Store
	LimiterOpts   []ratelimit.Option
	Hasher        *Hasher
	Authenticator authn.Authenticator
	// CSRFToken serves GET /api/csrf
	CSRFToken http.Handler
	Recorder  ValidationRecorder
}

// API implements the demo endpoints.
type API struct {
	logger    log.Logger
	responder apierr.Responder
	users     ratelimit.Limiter
	deletes   ratelimit.Limiter
	uploads   ratelimit.Limiter
	signup    ratelimit.Limiter
	hasher    *Hasher
	auth      authn.Authenticator
	csrfToken http.Handler
	recorder  ValidationRecorder
	now       func() time.Time
}

func NewAPI(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Hasher == nil {
		opts.Hasher = NewHasher(DefaultArgon2Params)
	}
	if opts.Authenticator == nil {
		opts.Authenticator = authn.ProxyHeader{}
	}
	limiter := func(cfg ratelimit.Config) ratelimit.Limiter {
		cfg.KeyFunc = ratelimit.PrefixedKey(cfg.Name, nil)
		o := append([]ratelimit.Option(nil), opts.LimiterOpts...)
		if opts.Store != nil {
			o = append(o, ratelimit.WithStore(opts.Store))
		}
		return ratelimit.NewFixedWindow(cfg, o...)
	}
	sliding := func(cfg ratelimit.Config) ratelimit.Limiter {
		cfg.KeyFunc = ratelimit.PrefixedKey(cfg.Name, nil)
		return ratelimit.NewSlidingWindow(cfg, opts.LimiterOpts...)
	}
	return &API{
		logger:    opts.Logger,
		responder: opts.Responder,
		users:     limiter(UsersLimit),
		deletes:   limiter(UsersDeleteLimit),
		uploads:   limiter(ratelimit.Upload),
		signup:    ratelimit.Tiered(sliding(SignupShortLimit), sliding(SignupLongLimit)),
		hasher:    opts.Hasher,
		auth:      opts.Authenticator,
		csrfToken: opts.CSRFToken,
		recorder:  opts.Recorder,
		now:       time.Now,
	}
}

// RegisterRoutes attaches the demo endpoints to the router.
func (api *API) RegisterRoutes(r chi.Router) {
	h := api.responder.Handler

	r.Group(func(r chi.Router) {
		r.Use(httpmw.Scope("users"), ratelimit.Middleware(api.users))
		r.Method(http.MethodGet, "/api/secure/users", h(api.ListUsers))
		r.Method(http.MethodPost, "/api/secure/users", h(api.CreateUser))
		r.Method(http.MethodPut, "/api/secure/users", h(api.UpdateUser))
	})
	r.With(httpmw.Scope("users"), ratelimit.Middleware(api.deletes)).Method(http.MethodDelete, "/api/secure/users", h(api.DeleteUser))

	r.Route("/api/secure/uploads", func(r chi.Router) {
		r.Use(httpmw.Scope("uploads"), ratelimit.Middleware(api.uploads))
		r.Method(http.MethodPost, "/image", h(upload[validate.ImageUpload](api, validate.ImageRule)))
		r.Method(http.MethodPost, "/document", h(upload[validate.DocumentUpload](api, validate.DocumentRule)))
	})

	r.With(httpmw.Scope("example_user"), authn.Middleware(api.auth), authn.Require).Method(http.MethodGet, "/api/example/user", h(api.GetUser))

	if api.csrfToken != nil {
		r.With(httpmw.Scope("csrf")).Method(http.MethodGet, "/api/csrf", api.csrfToken)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(httpmw.Scope("auth"))
		r.Method(http.MethodPost, "/signin", h(placeholder[validate.SignIn]))
		r.With(ratelimit.Middleware(api.signup)).Method(http.MethodPost, "/signup", h(placeholder[validate.SignUp]))
		r.Method(http.MethodPost, "/reset-password", h(placeholder[validate.ResetPassword]))
	})
}

// User is the simulated record.
type User struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	CreatedAt     time.Time  `json:"createdAt"`
	EmailVerified *bool      `json:"emailVerified,omitempty"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

type Meta struct {
	Sort      string    `json:"sort,omitempty"`
	Order     string    `json:"order,omitempty"`
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

type PageInfo struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type ListResponse struct {
	Data       []User   `json:"data"`
	Pagination PageInfo `json:"pagination"`
	Meta       Meta     `json:"meta"`
}

type ItemResponse struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message"`
	Meta    Meta   `json:"meta"`
}

type CreateUserRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=100,personname"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128,password"`
}

type UpdateUserRequest struct {
	ID    string  `json:"id" validate:"required,uuid"`
	Name  *string `json:"name,omitempty" validate:"omitnil,min=1,max=100,personname"`
	Email *string `json:"email,omitempty" validate:"omitnil,email,max=254"`
	Phone *string `json:"phone,omitempty" validate:"omitnil,phone"`
	Bio   *string `json:"bio,omitempty" validate:"omitnil,max=500"`
}

type updatedUser struct {
	ID        string    `json:"id"`
	Name      *string   `json:"name,omitempty"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Bio       *string   `json:"bio,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// demo ids are stable per position so paging is repeatable
var userNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://webguard.local/users"))

func simulatedUser(n int, now time.Time) User {
	return User{
		ID:        uuid.NewSHA1(userNamespace, []byte(fmt.Sprint(n))).String(),
		Name:      fmt.Sprintf("User %d", n),
		Email:     fmt.Sprintf("user%d@example.com", n),
		CreatedAt: now.Add(-time.Duration((n*7919)%8760) * time.Hour).Truncate(time.Second),
	}
}

// ListUsers handles GET /api/secure/users.
func (api *API) ListUsers(w http.ResponseWriter, r *http.Request) error {
	var q validate.Pagination
	if err := validate.DecodeQuery(r.URL.Query(), &q); err != nil {
		return api.invalid(r, "Invalid query parameters", err)
	}

	now := api.now().UTC()
	users := make([]User, 0, q.Limit)
	for i := 1; i <= q.Limit; i++ {
		users = append(users, simulatedUser(q.Offset()+i, now))
	}
	desc := q.Order == "desc"
	switch q.Sort {
	case "name":
		sort.SliceStable(users, func(i, j int) bool {
			if desc {
				return users[i].Name > users[j].Name
			}
			return users[i].Name < users[j].Name
		})
	case "createdAt":
		sort.SliceStable(users, func(i, j int) bool {
			if desc {
				return users[i].CreatedAt.After(users[j].CreatedAt)
			}
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		})
	}

	meta := api.meta(r)
	meta.Sort, meta.Order = q.Sort, q.Order
	return api.writeJSON(r.Context(), w, http.StatusOK, ListResponse{
		Data: users,
		Pagination: PageInfo{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      simulatedTotal,
			TotalPages: (simulatedTotal + q.Limit - 1) / q.Limit,
		},
		Meta: meta,
	})
}

// CreateUser handles POST /api/secure/users.
func (api *API) CreateUser(w http.ResponseWriter, r *http.Request) error {
	var req CreateUserRequest
	if err := validate.DecodeJSON(r, &req); err != nil {
		return api.invalid(r, "Invalid request data", err)
	}
	// hashed as it would be before storage; the demo keeps nothing
	if _, err := api.hasher.Hash(req.Password); err != nil {
		return err
	}
	verified := false
	u := User{
		ID:            uuid.NewString(),
		Name:          validate.SanitizeText(req.Name),
		Email:         strings.ToLower(req.Email),
		CreatedAt:     api.now().UTC(),
		EmailVerified: &verified,
	}
	ctx := r.Context()
	log.FromContext(ctx).Info(ctx, "user created", "user_id", u.ID)
	return api.writeJSON(ctx, w, http.StatusCreated, ItemResponse{
		Data:    u,
		Message: "User created successfully",
		Meta:    api.meta(r),
	})
}

// UpdateUser handles PUT /api/secure/users.
func (api *API) UpdateUser(w http.ResponseWriter, r *http.Request) error {
	var req UpdateUserRequest
	if err := validate.DecodeJSON(r, &req); err != nil {
		return api.invalid(r, "Invalid update data", err)
	}
	u := updatedUser{
		ID:        req.ID,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		UpdatedAt: api.now().UTC(),
	}
	if req.Bio != nil {
		bio := validate.SanitizeText(*req.Bio)
		u.Bio = &bio
	}
	return api.writeJSON(r.Context(), w, http.StatusOK, ItemResponse{
		Data:    u,
		Message: "User updated successfully",
		Meta:    api.meta(r),
	})
}

// DeleteUser handles DELETE /api/secure/users?id=.
func (api *API) DeleteUser(w http.ResponseWriter, r *http.Request) error {
	id := r.URL.Query().Get("id")
	if id == "" {
		return apierr.New(http.StatusBadRequest, "User ID is required", "MISSING_PARAMETER")
	}
	if err := validate.UUID(id); err != nil {
		return api.invalid(r, "Invalid user ID format", err)
	}
	return api.writeJSON(r.Context(), w, http.StatusOK, ItemResponse{
		Message: "User " + id + " deleted successfully",
		Meta:    api.meta(r),
	})
}

// GetUser handles GET /api/example/user?id=. Ids "404", "403" and "500"
// produce the matching error envelopes.
func (api *API) GetUser(w http.ResponseWriter, r *http.Request) error {
	id := r.URL.Query().Get("id")
	if err := validate.Field("id", id, "required"); err != nil {
		api.countInvalid(r)
		return err
	}
	switch id {
	case "404":
		return apierr.NotFound("User")
	case "403":
		return apierr.Forbidden("You cannot access this user's data")
	case "500":
		return apierr.Internal("Database connection failed")
	}
	return api.writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"user": map[string]string{"id": id, "name": "John Doe", "email": "john@example.com"},
	})
}

// UploadedFile describes an accepted upload. The file itself is discarded.
type UploadedFile struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size"`
	Metadata    any    `json:"metadata"`
}

// upload handles a multipart form with a "file" part checked against rule
// and metadata fields decoded into T.
func upload[T any](api *API, rule validate.FileRule) func(http.ResponseWriter, *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var meta T
		err := validate.DecodeForm(r, &meta)
		if r.MultipartForm != nil {
			defer func() { _ = r.MultipartForm.RemoveAll() }()
		}
		if err != nil {
			return api.invalid(r, "Invalid upload data", err)
		}
		var fh *multipart.FileHeader
		if r.MultipartForm != nil {
			if files := r.MultipartForm.File["file"]; len(files) > 0 {
				fh = files[0]
			}
		}
		if err := validate.File("file", fh, rule); err != nil {
			return api.invalid(r, "Invalid upload data", err)
		}

		f := UploadedFile{
			ID:          uuid.NewString(),
			Filename:    validate.SanitizeText(fh.Filename),
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Metadata:    meta,
		}
		ctx := r.Context()
		log.FromContext(ctx).Info(ctx, "upload accepted", "upload_id", f.ID, "size", f.Size)
		return api.writeJSON(ctx, w, http.StatusCreated, ItemResponse{
			Data:    f,
			Message: "File uploaded successfully",
			Meta:    api.meta(r),
		})
	}
}

// placeholder validates the payload of an identity provider route and
// answers 501; the real handlers live upstream.
func placeholder[T any](w http.ResponseWriter, r *http.Request) error {
	var req T
	if err := validate.DecodeJSON(r, &req); err != nil {
		return err
	}
	return apierr.New(http.StatusNotImplemented, "Authentication is handled by the identity provider", "NOT_IMPLEMENTED")
}

// invalid turns validation failures into 400 envelopes with issue details.
// Other errors pass through to the responder.
func (api *API) invalid(r *http.Request, msg string, err error) error {
	var ve *validate.Errors
	if !errors.As(err, &ve) || ve.Code != validate.CodeValidation {
		return err
	}
	api.countInvalid(r)
	return apierr.New(http.StatusBadRequest, msg, validate.CodeValidation).WithDetails(ve.Issues)
}

func (api *API) countInvalid(r *http.Request) {
	if api.recorder != nil {
		api.recorder.IncValidationFailure(r.URL.Path)
	}
}

// meta reuses the request id when it is a UUID so clients can quote it.
func (api *API) meta(r *http.Request) Meta {
	id := httpmw.RequestIDFromContext(r.Context())
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	return Meta{RequestID: id, Timestamp: api.now().UTC()}
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
	return nil
}
