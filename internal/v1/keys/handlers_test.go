package keys

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "valid registration",
			body:           `{"apiKey":"wt_live_abc","gameId":"space-miner","projectId":"proj_1"}`,
			expectedStatus: http.StatusOK,
			expectedBody:   `"success":true`,
		},
		{
			name:           "wrong key prefix",
			body:           `{"apiKey":"sk_live_abc","gameId":"space-miner","projectId":"proj_1"}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "BadFormat",
		},
		{
			name:           "missing gameId",
			body:           `{"apiKey":"wt_live_abc","projectId":"proj_1"}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "MissingField",
		},
		{
			name:           "malformed JSON",
			body:           `{"apiKey":`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "BadJSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(newTestRegistry(t))

			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest("POST", "/internal/keys", bytes.NewBufferString(tt.body))
			c.Request.Header.Set("Content-Type", "application/json")

			handler.Register(c)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
		})
	}
}

func TestInspectHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	reg := newTestRegistry(t)
	handler := NewHandler(reg)

	_, err := reg.Put(context.Background(), "wt_known", "space-miner", "proj_1")
	require.NoError(t, err)

	t.Run("known key", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest("GET", "/internal/keys/wt_known", nil)
		c.Params = gin.Params{{Key: "apiKey", Value: "wt_known"}}

		handler.Inspect(c)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"exists":true`)
		assert.Contains(t, w.Body.String(), "space-miner")
	})

	t.Run("unknown key reports exists false", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest("GET", "/internal/keys/wt_unknown", nil)
		c.Params = gin.Params{{Key: "apiKey", Value: "wt_unknown"}}

		handler.Inspect(c)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"exists":false`)
	})
}

func TestRevokeHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	reg := newTestRegistry(t)
	handler := NewHandler(reg)

	_, err := reg.Put(context.Background(), "wt_doomed", "space-miner", "proj_1")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("DELETE", "/internal/keys/wt_doomed", nil)
	c.Params = gin.Params{{Key: "apiKey", Value: "wt_doomed"}}

	handler.Revoke(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)

	_, found, err := reg.Get(context.Background(), "wt_doomed")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRevokeHandlerBadPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(newTestRegistry(t))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("DELETE", "/internal/keys/sk_wrong", nil)
	c.Params = gin.Params{{Key: "apiKey", Value: "sk_wrong"}}

	handler.Revoke(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "BadFormat")
}
