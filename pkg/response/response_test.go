package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moedor-live/backend/internal/apperr"
)

func init() { gin.SetMode(gin.TestMode) }

func TestErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperr.Invalid("pseudonym", "empty"), http.StatusBadRequest},
		{fmt.Errorf("vote: %w", apperr.ErrAlreadyVoted), http.StatusConflict},
		{apperr.ErrNotFound, http.StatusNotFound},
		{apperr.ErrFrameUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		Error(c, tc.err)
		if w.Code != tc.status {
			t.Errorf("Error(%v) status = %d, want %d", tc.err, w.Code, tc.status)
		}
	}
}

func TestErrorRateLimitedSetsRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Error(c, &apperr.RateLimitedError{Action: "message", RetryAfter: 42 * time.Second})

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "42" {
		t.Fatalf("Retry-After = %q, want 42", got)
	}
	var body Body
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.RetryAfter != 42 || body.Success {
		t.Fatalf("unexpected body %+v", body)
	}
}
