package account

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneysq/walletguard/internal/alert"
)

func newHandlerFixture(t *testing.T) (*gin.Engine, *Service, *alert.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	alerts := alert.NewMemoryStore()
	svc := NewService(NewMemoryStore())
	h := NewHandler(svc, alert.NewRecorder(alerts))

	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))
	return r, svc, alerts
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestManualFreezeAndUnfreezeRecordAlerts(t *testing.T) {
	r, svc, alerts := newHandlerFixture(t)
	a, err := svc.Create(context.Background(), CreateParams{Name: "alice"})
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodPost, "/v1/accounts/"+a.ID+"/freeze",
		gin.H{"duration_minutes": 15})
	require.Equal(t, http.StatusOK, w.Code)

	recorded := alerts.All()
	require.Len(t, recorded, 1)
	assert.Equal(t, alert.TypeManualFreeze, recorded[0].Type)
	assert.Equal(t, alert.SeverityMedium, recorded[0].Severity)
	assert.Equal(t, a.ID, recorded[0].AccountID)

	w = doJSON(t, r, http.MethodPost, "/v1/accounts/"+a.ID+"/unfreeze", nil)
	require.Equal(t, http.StatusOK, w.Code)

	recorded = alerts.All()
	require.Len(t, recorded, 2)
	assert.Equal(t, alert.TypeManualUnfreeze, recorded[1].Type)
	assert.Equal(t, alert.SeverityLow, recorded[1].Severity)
}

func TestCreateAccountRejectsIncoherentHours(t *testing.T) {
	r, _, _ := newHandlerFixture(t)

	w := doJSON(t, r, http.MethodPost, "/v1/accounts", gin.H{
		"name":               "alice",
		"allowed_start_hour": 30,
		"allowed_end_hour":   2,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "allowed_hours")
}

func TestCreateAccountRequiresName(t *testing.T) {
	r, _, _ := newHandlerFixture(t)

	w := doJSON(t, r, http.MethodPost, "/v1/accounts", gin.H{"name": "   "})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "name")
}
