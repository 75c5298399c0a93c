package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/armonia-contable/armonia/internal/ledger"
	ledgerhttp "github.com/armonia-contable/armonia/internal/ledger/http"
	"github.com/armonia-contable/armonia/internal/observability"
	"github.com/armonia-contable/armonia/internal/shared"
)

func memoryConfig(redisAddr string) *Config {
	return &Config{
		AppEnv:             "test",
		StoreDriver:        DriverMemory,
		RedisAddr:          redisAddr,
		ResultAccountCode:  "3.2.1.1",
		RateLimitPerMinute: 0,
	}
}

func TestBuildEngineWithoutRedis(t *testing.T) {
	engine, err := BuildEngine(context.Background(), memoryConfig(""), nil, nil)
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	require.Nil(t, engine.Redis)
	require.Empty(t, engine.Readiness())

	fy, err := engine.Closing.CreateFiscalYear(context.Background(), 1, 1, 2025)
	require.NoError(t, err)
	require.Len(t, fy.Periods, ledger.PeriodsPerYear)
}

func TestEngineServesLedgerAPI(t *testing.T) {
	mr := miniredis.RunT(t)
	metrics := observability.NewMetrics()
	cfg := memoryConfig(mr.Addr())
	engine, err := BuildEngine(context.Background(), cfg, nil, metrics)
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	require.NotNil(t, engine.Redis)
	require.Len(t, engine.Readiness(), 1)

	router := NewRouter(RouterParams{
		Config:        cfg,
		LedgerHandler: ledgerhttp.NewHandler(nil, engine.Services()),
		Metrics:       metrics,
		Readiness:     engine.Readiness(),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/fiscal-years", strings.NewReader(`{"entity_id":1,"year":2025}`))
	req.Header.Set(ledgerhttp.HeaderActorID, "7")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	path := fmt.Sprintf("/api/v1/fiscal-years/%d/%d/periods/1/close", 1, 2025)
	req = httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set(ledgerhttp.HeaderActorID, "7")
	req.Header.Set(ledgerhttp.HeaderCapabilities, shared.CapClose)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), `armonia_closings_total{kind="period",result="closed"}`)
}
