package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSafePath(t *testing.T) {
	tests := []struct {
		target     string
		wantStatus int
	}{
		{"/api/users", http.StatusOK},
		{"/.well-known/security.txt", http.StatusOK},
		{"/api/../admin", http.StatusBadRequest},
		{"/api/%2e%2e/admin", http.StatusBadRequest},
		{"/static/%5c..%5cetc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			called := false
			h := SafePath(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Fatalf("next called = %v", called)
			}
			if tt.wantStatus == http.StatusBadRequest && !strings.Contains(rec.Body.String(), `"BAD_REQUEST"`) {
				t.Errorf("body = %s, want BAD_REQUEST envelope", rec.Body.String())
			}
		})
	}
}
