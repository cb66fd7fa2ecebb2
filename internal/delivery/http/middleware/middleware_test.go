package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiter(t *testing.T) {
	router := gin.New()
	router.Use(RateLimiter(3))
	router.POST("/jobs", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	var codes []int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[2] != http.StatusAccepted {
		t.Errorf("expected the third request to pass, got %v", codes)
	}
	if codes[3] != http.StatusTooManyRequests {
		t.Errorf("expected the fourth request to be limited, got %v", codes)
	}

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Errorf("expected status 202 for a new client, got %d", w.Code)
	}
}

// Test: bodies past the limit are refused whether or not they declare a length.
func TestBodySizeLimit(t *testing.T) {
	router := gin.New()
	router.Use(BodySizeLimit(8))
	router.POST("/jobs", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(body))
	})

	tests := []struct {
		name     string
		body     string
		chunked  bool
		wantCode int
	}{
		{"within limit", "12345678", false, http.StatusOK},
		{"declared too large", strings.Repeat("x", 64), false, http.StatusRequestEntityTooLarge},
		{"chunked too large", strings.Repeat("x", 64), true, http.StatusRequestEntityTooLarge},
		{"chunked within limit", "abc", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(tt.body))
			if tt.chunked {
				req.ContentLength = -1
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d", tt.wantCode, w.Code)
			}
			if tt.wantCode == http.StatusOK && w.Body.String() != tt.body {
				t.Errorf("expected the handler to see %q, got %q", tt.body, w.Body.String())
			}
			if tt.wantCode == http.StatusRequestEntityTooLarge && !strings.Contains(w.Body.String(), "exceeds 8 bytes") {
				t.Errorf("expected the limit in the message, got %s", w.Body.String())
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	const header = "X-Trace"
	router := gin.New()
	router.Use(RequestID(header))
	router.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(requestIDKey)) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get(header) == "" || w.Body.String() != w.Header().Get(header) {
		t.Errorf("expected a generated request ID, got header %q body %q", w.Header().Get(header), w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(header, "abc")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Body.String() != "abc" {
		t.Errorf("expected the caller's request ID, got %q", w.Body.String())
	}
}

// Test: a malformed caller ID is replaced and the default header is used when none is configured.
func TestRequestID_RejectsMalformed(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(""))
	router.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(requestIDKey)) })

	for _, bad := range []string{"has space", strings.Repeat("a", maxRequestIDLen+1), "tab\there"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(DefaultRequestIDHeader, bad)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Body.String() == bad {
			t.Errorf("expected %q to be replaced", bad)
		}
		if got := w.Header().Get(DefaultRequestIDHeader); got != w.Body.String() {
			t.Errorf("expected header %s to carry %q, got %q", DefaultRequestIDHeader, w.Body.String(), got)
		}
	}
}
