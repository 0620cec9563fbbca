package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/dalemusser/selfmap/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// TestUser represents a signed-in caller in handler tests.
type TestUser struct {
	ID    string
	Name  string
	Email string
}

// Owner returns a fresh user who will own the maps a test creates.
func Owner() TestUser {
	return TestUser{ID: "owner-" + uuid.NewString(), Name: "Map Owner", Email: "owner@test.com"}
}

// Visitor returns a fresh user who follows a share link.
func Visitor() TestUser {
	return TestUser{ID: "visitor-" + uuid.NewString(), Name: "Visitor", Email: "visitor@test.com"}
}

// Session converts the test user to the session representation.
func (u TestUser) Session() *auth.SessionUser {
	return &auth.SessionUser{ID: u.ID, Name: u.Name, Email: u.Email}
}

// WithUser returns r carrying u as the signed-in user.
func WithUser(r *http.Request, u TestUser) *http.Request {
	return r.WithContext(auth.WithUser(r.Context(), u.Session()))
}

// AsUser is middleware that signs every request in as u. A zero TestUser
// leaves requests anonymous.
func AsUser(u TestUser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if u.ID != "" {
				r = WithUser(r, u)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithChiURLParam adds a chi URL parameter to the request context.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// JSONRequest builds a request whose body is v encoded as JSON.
func JSONRequest(t *testing.T, method, target string, v any) *http.Request {
	t.Helper()
	var body io.Reader
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// UploadRequest builds the multipart marker upload. A nil photo omits the
// file part.
func UploadRequest(t *testing.T, target string, lat, lng float64, photo []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	_ = mw.WriteField("lng", strconv.FormatFloat(lng, 'f', -1, 64))
	if photo != nil {
		fw, err := mw.CreateFormFile("photo", "photo.png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(photo); err != nil {
			t.Fatalf("write photo: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// DecodeJSON decodes the recorder body into v.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// ErrorCode extracts error.code from a JSON error body.
func ErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	DecodeJSON(t, rec, &body)
	return body.Error.Code
}
