package validate

import "fmt"

// Rule strings for fields shared across payloads
const (
	RuleEmail      = "email,max=254"
	RulePassword   = "min=8,max=128,password"
	RuleName       = "min=1,max=100,personname"
	RuleUsername   = "min=3,max=30,username"
	RuleURL        = "url,max=2048"
	RulePhone      = "phone"
	RuleUUID       = "uuid"
	RuleSlug       = "min=1,max=100,slug"
	maxTextDefault = 1000
)

func Email(s string) error    { return Field("email", s, "required,"+RuleEmail) }
func Password(s string) error { return Field("password", s, RulePassword) }
func Name(s string) error     { return Field("name", s, RuleName) }
func Username(s string) error { return Field("username", s, RuleUsername) }
func URL(s string) error      { return Field("url", s, "required,"+RuleURL) }
func Phone(s string) error    { return Field("phone", s, RulePhone) }
func UUID(s string) error     { return Field("id", s, "required,"+RuleUUID) }
func Slug(s string) error     { return Field("slug", s, RuleSlug) }

// Text checks length bounds in characters; max <= 0 means 1000.
func Text(s string, min, max int) error {
	if max <= 0 {
		max = maxTextDefault
	}
	return Field("text", s, fmt.Sprintf("min=%d,max=%d", min, max))
}

// auth

type SignIn struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
	Remember *bool  `json:"remember,omitempty"`
}

type SignUp struct {
	Name            string `json:"name" validate:"required,max=100,personname"`
	Email           string `json:"email" validate:"required,email,max=254"`
	Password        string `json:"password" validate:"required,min=8,max=128,password"`
	ConfirmPassword string `json:"confirmPassword" validate:"eqfield=Password"`
	Terms           bool   `json:"terms" validate:"accepted"`
}

type ResetPassword struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type ChangePassword struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=128,password"`
	ConfirmPassword string `json:"confirmPassword" validate:"eqfield=NewPassword"`
}

type UpdateProfile struct {
	Name  *string `json:"name,omitempty" validate:"omitnil,min=1,max=100,personname"`
	Email *string `json:"email,omitempty" validate:"omitnil,email,max=254"`
	Phone *string `json:"phone,omitempty" validate:"omitnil,phone"`
	Bio   *string `json:"bio,omitempty" validate:"omitnil,max=500"`
}

// api

type Pagination struct {
	Page  int    `form:"page" json:"page" validate:"min=1"`
	Limit int    `form:"limit" json:"limit" validate:"min=1,max=100"`
	Sort  string `form:"sort" json:"sort,omitempty"`
	Order string `form:"order" json:"order" validate:"oneof=asc desc"`
}

func (p *Pagination) SetDefaults() {
	p.Page, p.Limit, p.Order = 1, 10, "desc"
}

// Offset is the zero-based index of the first item on the page.
func (p Pagination) Offset() int { return (p.Page - 1) * p.Limit }

type Search struct {
	Q       string            `form:"q" json:"q" validate:"required,max=100"`
	Filters map[string]string `form:"filters" json:"filters,omitempty"`
}

type BulkOperation struct {
	IDs    []string `json:"ids" validate:"min=1,max=100,dive,uuid"`
	Action string   `json:"action" validate:"required,oneof=delete update archive"`
}

// content

type Post struct {
	Title     string   `json:"title" validate:"required,max=200"`
	Content   string   `json:"content" validate:"required,max=10000"`
	Excerpt   string   `json:"excerpt,omitempty" validate:"max=500"`
	Slug      string   `json:"slug" validate:"required,max=100,slug"`
	Tags      []string `json:"tags,omitempty" validate:"max=10,dive,max=50"`
	Published bool     `json:"published"`
}

type Comment struct {
	Content  string  `json:"content" validate:"required,max=1000"`
	PostID   string  `json:"postId" validate:"required,uuid"`
	ParentID *string `json:"parentId,omitempty" validate:"omitnil,uuid"`
}
