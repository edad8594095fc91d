package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func Test_fail_LogsOnlyServerErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-1")
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/upstream", func(c *gin.Context) {
		fail(c, http.StatusBadGateway, ErrCodeUpstreamFailed, "stripe unavailable")
	})
	r.GET("/gone", func(c *gin.Context) {
		Fail(c, http.StatusGone, ErrCodeClaimExpired, "claim token expired")
	})

	cases := []struct {
		path   string
		status int
		code   string
		logged bool
	}{
		{"/upstream", http.StatusBadGateway, ErrCodeUpstreamFailed, true},
		{"/gone", http.StatusGone, ErrCodeClaimExpired, false},
	}
	for _, tc := range cases {
		buf.Reset()
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))

		if w.Code != tc.status {
			t.Fatalf("%s: status=%d", tc.path, w.Code)
		}
		var resp ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: json: %v", tc.path, err)
		}
		if resp.RequestID != "rid-1" || resp.Code != tc.code {
			t.Fatalf("%s: unexpected body: %+v", tc.path, resp)
		}
		if got := strings.Contains(buf.String(), `"level":"error"`); got != tc.logged {
			t.Fatalf("%s: logged=%v; want %v (%s)", tc.path, got, tc.logged, buf.String())
		}
	}
}

func Test_weakETag(t *testing.T) {
	if got := weakETag("entitlements", "id-1-42"); got != `W/"entitlements:id-1-42"` {
		t.Fatalf("weakETag = %s", got)
	}
}

func Test_notModified(t *testing.T) {
	gin.SetMode(gin.TestMode)
	etag := weakETag("entitlements", "fp")

	cases := []struct {
		name string
		inm  string
		want bool
	}{
		{"absent", "", false},
		{"exact", etag, true},
		{"strong form", `"entitlements:fp"`, true},
		{"in list", `W/"other", ` + etag, true},
		{"wildcard", "*", true},
		{"stale", `W/"entitlements:old"`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.inm != "" {
				c.Request.Header.Set("If-None-Match", tc.inm)
			}

			if got := notModified(c, etag); got != tc.want {
				t.Fatalf("notModified = %v; want %v", got, tc.want)
			}
			if w.Header().Get("ETag") != etag {
				t.Fatalf("ETag header = %q", w.Header().Get("ETag"))
			}
			c.Writer.WriteHeaderNow()
			if tc.want && w.Code != http.StatusNotModified {
				t.Fatalf("status = %d; want 304", w.Code)
			}
		})
	}
}
