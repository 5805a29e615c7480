package validate

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"slices"
)

// FileRule bounds an uploaded file by size and content type.
type FileRule struct {
	MaxBytes    int64
	Types       []string
	SizeMessage string
	TypeMessage string
}

var (
	ImageRule = FileRule{
		MaxBytes:    5 << 20,
		Types:       []string{"image/jpeg", "image/png", "image/webp", "image/gif"},
		SizeMessage: "File size must be less than 5MB",
		TypeMessage: "File must be a valid image (JPEG, PNG, WebP, or GIF)",
	}
	DocumentRule = FileRule{
		MaxBytes: 10 << 20,
		Types: []string{
			"application/pdf",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		},
		SizeMessage: "File size must be less than 10MB",
		TypeMessage: "File must be a valid document (PDF, DOC, or DOCX)",
	}
)

// File checks fh against rule. The declared part Content-Type is used;
// when it is missing the first 512 bytes are sniffed.
func File(field string, fh *multipart.FileHeader, rule FileRule) error {
	if fh == nil {
		return failed(Issue{Path: []string{field}, Message: label(field) + " is required"})
	}
	var issues []Issue
	if rule.MaxBytes > 0 && fh.Size > rule.MaxBytes {
		issues = append(issues, Issue{Path: []string{field}, Message: rule.SizeMessage})
	}
	ct := fh.Header.Get("Content-Type")
	if ct == "" {
		sniffed, err := sniff(fh)
		if err != nil {
			return err
		}
		ct = sniffed
	}
	if len(rule.Types) > 0 && !slices.Contains(rule.Types, ct) {
		issues = append(issues, Issue{Path: []string{field}, Message: rule.TypeMessage})
	}
	if len(issues) > 0 {
		return failed(issues...)
	}
	return nil
}

func sniff(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	return http.DetectContentType(buf[:n]), nil
}

// ImageUpload is the metadata accompanying an image upload.
type ImageUpload struct {
	Alt string `form:"alt" json:"alt,omitempty" validate:"max=200"`
}

// DocumentUpload is the metadata accompanying a document upload.
type DocumentUpload struct {
	Title       string `form:"title" json:"title" validate:"required,max=100"`
	Description string `form:"description" json:"description,omitempty" validate:"max=500"`
}
