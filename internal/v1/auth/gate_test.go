package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/traybueno/watchtower-api/internal/v1/types"
)

type mockLookup struct {
	records map[string]*types.KeyRecord
	err     error
}

func (m *mockLookup) Get(_ context.Context, apiKey string) (*types.KeyRecord, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	record, ok := m.records[apiKey]
	return record, ok, nil
}

func newGateRouter(lookup types.KeyLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/probe", Gate(lookup), func(c *gin.Context) {
		identity, ok := FromContext(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "identity not bound"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"gameId":   identity.GameID,
			"playerId": identity.PlayerID,
		})
	})
	return router
}

func validLookup() *mockLookup {
	return &mockLookup{records: map[string]*types.KeyRecord{
		"wt_live_abc": {GameID: "space-miner", ProjectID: "proj_1"},
	}}
}

func TestGate(t *testing.T) {
	tests := []struct {
		name           string
		target         string
		headers        map[string]string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "missing playerId rejected before key checks",
			target:         "/probe",
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "PlayerIdRequired",
		},
		{
			name:           "missing key",
			target:         "/probe",
			headers:        map[string]string{"X-Player-ID": "p1"},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "AuthRequired",
		},
		{
			name:           "wrong key prefix",
			target:         "/probe",
			headers:        map[string]string{"X-Player-ID": "p1", "Authorization": "Bearer sk_live_abc"},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "InvalidKeyFormat",
		},
		{
			name:           "unknown key",
			target:         "/probe",
			headers:        map[string]string{"X-Player-ID": "p1", "Authorization": "Bearer wt_unknown"},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "InvalidKey",
		},
		{
			name:           "valid key via header",
			target:         "/probe",
			headers:        map[string]string{"X-Player-ID": "p1", "Authorization": "Bearer wt_live_abc"},
			expectedStatus: http.StatusOK,
			expectedBody:   "space-miner",
		},
		{
			name:           "valid key via query parameters",
			target:         "/probe?apiKey=wt_live_abc&playerId=p1",
			expectedStatus: http.StatusOK,
			expectedBody:   "space-miner",
		},
		{
			name:           "header wins over query",
			target:         "/probe?apiKey=wt_unknown&playerId=ignored",
			headers:        map[string]string{"X-Player-ID": "p1", "Authorization": "Bearer wt_live_abc"},
			expectedStatus: http.StatusOK,
			expectedBody:   `"playerId":"p1"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newGateRouter(validLookup())

			w := httptest.NewRecorder()
			req := httptest.NewRequest("GET", tt.target, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
		})
	}
}

func TestGateLookupFailure(t *testing.T) {
	router := newGateRouter(&mockLookup{err: errors.New("redis down")})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/probe?apiKey=wt_live_abc&playerId=p1", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal")
	// The caller must not learn why the lookup failed.
	assert.NotContains(t, w.Body.String(), "redis")
}

func TestGateBindsIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var captured types.Identity
	router := gin.New()
	router.GET("/probe", Gate(validLookup()), func(c *gin.Context) {
		captured, _ = FromContext(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/probe?playerId=p9", nil)
	req.Header.Set("Authorization", "Bearer wt_live_abc")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.GameID("space-miner"), captured.GameID)
	assert.Equal(t, types.ProjectID("proj_1"), captured.ProjectID)
	assert.Equal(t, types.PlayerID("p9"), captured.PlayerID)
	assert.Equal(t, "wt_live_abc", captured.APIKey)
}
