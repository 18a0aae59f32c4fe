package app_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/apotek-pos/internal/app"
	"github.com/noah-isme/apotek-pos/internal/config"
)

const catalogJSON = `{
  "prescriptions": [{"id": "rx-1", "name": "Amoxicillin", "price": "50.00", "insuranceCovered": true, "copay": "10.00"}],
  "products": [{"id": "otc-1", "name": "Ibuprofen", "price": "10.00"}]
}`

func newServer(t *testing.T, env map[string]string) (*httptest.Server, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(catalogJSON), 0o600))

	vars := map[string]string{
		"REDIS_URL":    "redis://" + mr.Addr(),
		"CATALOG_FILE": path,
		"POS_TAX_RATE": "0.08",
	}
	for k, v := range env {
		vars[k] = v
	}
	cfg, err := config.LoadForTests(vars)
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	deps, err := app.NewDependencies(cfg, zerolog.Nop(), rdb, nil)
	require.NoError(t, err)
	handler, _ := deps.Router()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, mr
}

func call(t *testing.T, srv *httptest.Server, method, path, body string, headers ...string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestCheckoutThroughFullStack(t *testing.T) {
	srv, mr := newServer(t, nil)
	tenantHdr := []string{"X-Tenant-ID", "Clinic-A", "X-Terminal-ID", "till-1"}

	status, body := call(t, srv, http.MethodPost, "/api/v1/pos/sessions", "", tenantHdr...)
	require.Equal(t, http.StatusCreated, status, body)
	id := body["data"].(map[string]any)["id"].(string)
	base := "/api/v1/pos/sessions/" + id

	status, _ = call(t, srv, http.MethodPost, base+"/lines", `{"kind":"prescription","itemId":"rx-1"}`, tenantHdr...)
	require.Equal(t, http.StatusOK, status)
	status, body = call(t, srv, http.MethodPost, base+"/lines", `{"kind":"otc","itemId":"otc-1"}`, tenantHdr...)
	require.Equal(t, http.StatusOK, status)
	settlement := body["data"].(map[string]any)["settlement"].(map[string]any)
	require.Equal(t, "60.00", settlement["subtotal"])
	require.Equal(t, "40.00", settlement["insuranceCredit"])
	require.Equal(t, "1.60", settlement["tax"])
	require.Equal(t, "21.60", settlement["totalDue"])

	status, _ = call(t, srv, http.MethodPost, base+"/tenders", `{"method":"cash","amount":"25.00"}`, tenantHdr...)
	require.Equal(t, http.StatusOK, status)

	finalize := append([]string{"Idempotency-Key", "fin-1"}, tenantHdr...)
	status, body = call(t, srv, http.MethodPost, base+"/finalize", "", finalize...)
	require.Equal(t, http.StatusOK, status, body)
	result := body["data"].(map[string]any)
	require.Equal(t, "3.40", result["settlement"].(map[string]any)["changeDue"])
	require.NotEmpty(t, result["receipt"].(map[string]any)["receiptNumber"])

	status, again := call(t, srv, http.MethodPost, base+"/finalize", "", finalize...)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, body, again)

	status, _ = call(t, srv, http.MethodGet, base, "", tenantHdr...)
	require.Equal(t, http.StatusNotFound, status)

	require.True(t, mr.Exists("pos:events"))
}

func TestRoutesOutsideCheckout(t *testing.T) {
	srv, _ := newServer(t, map[string]string{"RATE_LIMIT_MAX": "1"})

	status, body := call(t, srv, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])

	status, body = call(t, srv, http.MethodPost, "/api/v1/pos/sessions", "")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "TENANT_REQUIRED", body["error"].(map[string]any)["code"])

	hdr := []string{"X-Tenant-ID", "clinic-a", "X-Terminal-ID", "till-9"}
	status, _ = call(t, srv, http.MethodPost, "/api/v1/pos/sessions", "", hdr...)
	require.Equal(t, http.StatusCreated, status)
	status, body = call(t, srv, http.MethodPost, "/api/v1/pos/sessions", "", hdr...)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, "RATE_LIMITED", body["error"].(map[string]any)["code"])

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), "pos_checkout_operations_total")
	require.Contains(t, string(raw), "pos_http_requests_total")
}
