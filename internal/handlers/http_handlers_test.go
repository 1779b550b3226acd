package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"roundlottery/internal/alert"
	"roundlottery/internal/ledger"
	"roundlottery/internal/metrics"
	"roundlottery/internal/services"
	"roundlottery/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	st := store.New(db)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	reg := prometheus.NewRegistry()
	svc := services.NewLotteryService(st, ledger.NewDryRun(18), alert.LogNotifier{}, metrics.New(reg), services.DefaultOptions())
	h := NewHTTPHandler(svc, NewAdminAuth("admin", "secret"),
		PublicConfig{TokenAddress: "0xtoken", CollectionAddress: "0xcollect"},
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	router := gin.New()
	router.Use(RequestID(), CORS([]string{"https://app.example"}))
	h.RegisterRoutes(router)
	return router
}

func doJSON(router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func currentRoundID(t *testing.T, router *gin.Engine) uint64 {
	t.Helper()
	w := doJSON(router, http.MethodGet, "/api/current-round", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	return uint64(decode(t, w)["id"].(float64))
}

func login(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := doJSON(router, http.MethodPost, "/api/admin/login", "", map[string]string{"user": "admin", "pass": "secret"})
	require.Equal(t, http.StatusOK, w.Code)
	return decode(t, w)["token"].(string)
}

func TestHTTPHandler_Config(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(router, http.MethodGet, "/api/config", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Equal(t, "0xtoken", body["token_address"])
	require.Equal(t, "0xcollect", body["collection_address"])
	require.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestHTTPHandler_CurrentRound(t *testing.T) {
	router := newTestRouter(t)
	first := currentRoundID(t, router)
	require.Equal(t, first, currentRoundID(t, router))

	w := doJSON(router, http.MethodGet, "/api/current-round", "", nil)
	body := decode(t, w)
	require.Equal(t, "active", body["status"])
	require.Equal(t, float64(0), body["participant_count"])
}

func TestHTTPHandler_Participate(t *testing.T) {
	router := newTestRouter(t)
	roundID := currentRoundID(t, router)

	t.Run("Test successful entry", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/participate", "", map[string]any{
			"round_id": roundID, "user_address": "0xABC", "tx_hash": "0x01",
		})
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		require.Equal(t, true, body["success"])
		round := body["round"].(map[string]any)
		require.Equal(t, float64(10000), round["prize_amount"])
	})

	t.Run("Test second entry from the same address", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/participate", "", map[string]any{
			"round_id": roundID, "user_address": "0xabc", "tx_hash": "0x02",
		})
		require.Equal(t, http.StatusConflict, w.Code)
		require.Equal(t, string(services.CodeAlreadyParticipated), decode(t, w)["error"])
	})

	t.Run("Test reused transaction hash", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/participate", "", map[string]any{
			"round_id": roundID, "user_address": "0xdef", "tx_hash": "0x01",
		})
		require.Equal(t, http.StatusConflict, w.Code)
		require.Equal(t, string(services.CodeDuplicateSubmission), decode(t, w)["error"])
	})

	t.Run("Test missing fields", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/participate", "", map[string]any{"round_id": roundID})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, string(services.CodeMissingFields), decode(t, w)["error"])
	})

	t.Run("Test oversized address", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/participate", "", map[string]any{
			"round_id": roundID, "user_address": "0x" + strings.Repeat("a", 100), "tx_hash": "0x04",
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, string(services.CodeInvalidField), decode(t, w)["error"])
	})

	t.Run("Test unknown round", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/participate", "", map[string]any{
			"round_id": roundID + 100, "user_address": "0xdef", "tx_hash": "0x03",
		})
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	w := doJSON(router, http.MethodGet, "/api/current-round", "", nil)
	body := decode(t, w)
	require.Equal(t, float64(1), body["participant_count"])
	recent := body["recent_participants"].([]any)
	require.Len(t, recent, 1)
	require.Equal(t, "0xabc", recent[0].(map[string]any)["user_address"])
}

func TestHTTPHandler_History(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(router, http.MethodGet, "/api/history?limit=500", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, "[]", w.Body.String())
}

func TestHTTPHandler_Admin(t *testing.T) {
	router := newTestRouter(t)
	roundID := currentRoundID(t, router)

	t.Run("Test wrong credentials", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/admin/login", "", map[string]string{"user": "admin", "pass": "nope"})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Test admin routes require a token", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/admin/update-prize", "", map[string]any{"amount": 5})
		require.Equal(t, http.StatusUnauthorized, w.Code)
		w = doJSON(router, http.MethodPost, "/api/admin/update-prize", "stale-token", map[string]any{"amount": 5})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	token := login(t, router)

	t.Run("Test update prize", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/admin/update-prize", token, map[string]any{"amount": 500})
		require.Equal(t, http.StatusOK, w.Code)
		round := decode(t, w)["round"].(map[string]any)
		require.Equal(t, float64(500), round["prize_amount"])
		require.Equal(t, float64(500), round["bonus_amount"])

		w = doJSON(router, http.MethodPost, "/api/admin/update-prize", token, map[string]any{"amount": 100, "bonus": 0})
		require.Equal(t, http.StatusOK, w.Code)
		round = decode(t, w)["round"].(map[string]any)
		require.Equal(t, float64(600), round["prize_amount"])
		require.Equal(t, float64(500), round["bonus_amount"])
	})

	t.Run("Test update prize rejects negative amounts", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/admin/update-prize", token, map[string]any{"amount": -1})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, string(services.CodeInvalidAmount), decode(t, w)["error"])
	})

	t.Run("Test update prize rejects an overflowing pool", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/admin/update-prize", token, map[string]any{"amount": int64(math.MaxInt64), "bonus": 0})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, string(services.CodeInvalidAmount), decode(t, w)["error"])

		w = doJSON(router, http.MethodGet, "/api/current-round", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, float64(600), decode(t, w)["prize_amount"])
	})

	t.Run("Test advance of an open round", func(t *testing.T) {
		path := "/api/admin/rounds/" + strconv.FormatUint(roundID, 10) + "/advance"
		w := doJSON(router, http.MethodPost, path, token, nil)
		require.Equal(t, http.StatusConflict, w.Code)
		require.Equal(t, string(services.CodeRoundNotExpired), decode(t, w)["error"])
	})

	t.Run("Test invalid round id", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/admin/rounds/abc/advance", token, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Test retry of a round without a failed payout", func(t *testing.T) {
		path := "/api/admin/rounds/" + strconv.FormatUint(roundID, 10) + "/retry-payout"
		w := doJSON(router, http.MethodPost, path, token, nil)
		require.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Test new login replaces the token", func(t *testing.T) {
		fresh := login(t, router)
		w := doJSON(router, http.MethodPost, "/api/admin/update-prize", token, map[string]any{"amount": 1})
		require.Equal(t, http.StatusUnauthorized, w.Code)
		w = doJSON(router, http.MethodPost, "/api/admin/update-prize", fresh, map[string]any{"amount": 1})
		require.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHTTPHandler_Metrics(t *testing.T) {
	router := newTestRouter(t)
	roundID := currentRoundID(t, router)
	doJSON(router, http.MethodPost, "/api/participate", "", map[string]any{
		"round_id": roundID, "user_address": "0xabc", "tx_hash": "0x01",
	})

	w := doJSON(router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "lottery_registrations_total")
}

func TestCORS(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/participate", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/config", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
