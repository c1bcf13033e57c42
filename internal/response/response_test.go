package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestFailCarriesRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		Fail(c, http.StatusGone, ErrAttemptExpired)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	assert.Equal(t, ErrAttemptExpired, body.Error.Code)
	assert.Equal(t, GetMessage(ErrAttemptExpired), body.Error.Message)
	assert.Equal(t, "req-1", body.Metadata.RequestID)
}

func TestFailWithDataKeepsPayload(t *testing.T) {
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		FailWithData(c, http.StatusConflict, ErrAlreadySubmitted, gin.H{"status": "SUBMITTED"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var body struct {
		Data  map[string]string `json:"data"`
		Error ErrorBody         `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "SUBMITTED", body.Data["status"])
	assert.Equal(t, ErrAlreadySubmitted, body.Error.Code)
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(2, 20, 41)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 41, p.TotalItems)

	assert.Zero(t, NewPagination(1, 0, 10).TotalPages)
}

func TestRequestIDMiddlewareReplacesUnsafeIDs(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := map[string]bool{
		"abc-123":                 true,
		"":                        false,
		"has space":               false,
		string(make([]byte, 100)): false,
	}
	for in, kept := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if in != "" {
			req.Header.Set("X-Request-ID", in)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		got := w.Header().Get("X-Request-ID")
		assert.NotEmpty(t, got)
		if kept {
			assert.Equal(t, in, got)
		} else {
			assert.NotEqual(t, in, got)
		}
	}
}

func TestEveryCodeHasMessage(t *testing.T) {
	codes := []ErrCode{
		ErrTokenRequired, ErrTokenInvalid, ErrTokenExpired, ErrForbidden,
		ErrValidation, ErrInvalidID, ErrInvalidPayload, ErrNotFound,
		ErrAlreadySubmitted, ErrAttemptExpired, ErrNoAnswers,
		ErrRateLimitExceeded, ErrInternal,
	}
	fallback := GetMessage(ErrCode("UNKNOWN"))
	for _, code := range codes {
		assert.NotEqual(t, fallback, GetMessage(code), code)
	}
}
