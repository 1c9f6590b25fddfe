package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordAccountCreated()
	m.RecordAccountCreated()
	m.RecordAccountRejected("InvalidInvite")
	m.RecordLogin("success")
	m.RecordLogin("invalid_credentials")
	m.RecordLogin("invalid_credentials")
	m.RecordSessionsSwept(3)
	m.RecordSessionsSwept(0)
	m.RecordHTTPRequest("POST", "/v1/account", "200", 15*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.AccountsCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AccountsRejected.WithLabelValues("InvalidInvite")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Logins.WithLabelValues("invalid_credentials")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.SessionsSwept))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/v1/account", "200")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("GET", "/", "200", time.Millisecond)
		m.RecordAccountCreated()
		m.RecordAccountRejected("Internal")
		m.RecordPasswordChanged()
		m.RecordInviteIssued()
		m.RecordInviteNotifyFailure()
		m.RecordLogin("success")
		m.RecordSessionValidation("valid")
		m.RecordSessionsSwept(1)
		m.RecordPanic()
		m.RecordRateLimitBlock("login")
	})
}

func TestMetrics_HTTPHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordInviteIssued()

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "meru_invites_issued_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
