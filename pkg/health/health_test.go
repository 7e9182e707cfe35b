package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error { return nil }

func TestRunAggregatesWorstStatus(t *testing.T) {
	c := NewChecker()
	c.Register("redis", PingCheck(up))
	c.RegisterOptional("dead_letter", ThresholdCheck(func(context.Context) (int, error) { return 12, nil }, 10))

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.True(t, report.Components["dead_letter"].Optional)

	c.Register("rabbitmq", PingCheck(func(context.Context) error { return errors.New("closed") }))
	report = c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, "closed", report.Components["rabbitmq"].Message)
}

func TestOptionalDownOnlyDegrades(t *testing.T) {
	c := NewChecker()
	c.Register("postgres", PingCheck(up))
	c.RegisterOptional("dead_letter", ThresholdCheck(func(context.Context) (int, error) { return 0, errors.New("channel closed") }, 10))
	assert.Equal(t, StatusDegraded, c.Run(context.Background()).Status)
}

func TestThresholdDisabled(t *testing.T) {
	res := ThresholdCheck(func(context.Context) (int, error) { return 5000, nil }, 0)(context.Background())
	assert.Equal(t, StatusUp, res.Status)
}

func TestCheckTimeout(t *testing.T) {
	c := NewChecker()
	c.checkTimeout = 20 * time.Millisecond
	c.Register("kafka", PingCheck(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	start := time.Now()
	report := c.Run(context.Background())
	require.Equal(t, StatusDown, report.Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.RegisterOptional("dead_letter", ThresholdCheck(func(context.Context) (int, error) { return 50, nil }, 10))
	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "degraded should stay ready")

	c.Register("postgres", PingCheck(func(context.Context) error { return errors.New("refused") }))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres"`)
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
