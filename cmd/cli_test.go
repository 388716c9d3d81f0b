package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const fixture = "testdata/tally.yaml"

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestQuoteFoundingOverage(t *testing.T) {
	stdout, _, err := executeCLI(t, "quote", "--config", fixture,
		"--tier", "starter", "--count", "query=600", "--founding")
	require.NoError(t, err)

	var q struct {
		Total struct {
			Amount int64 `json:"amount"`
		} `json:"total"`
		Digest string `json:"digest"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &q))
	// 75000 discounted flat fee plus 100 overage queries at 15
	assert.EqualValues(t, 76500, q.Total.Amount)
	assert.NotEmpty(t, q.Digest)
}

func TestQuoteDigestIsReproducible(t *testing.T) {
	args := []string{"quote", "--config", fixture, "--tier", "growth", "--count", "query=2500", "--count", "document=3"}
	first, _, err := executeCLI(t, args...)
	require.NoError(t, err)
	second, _, err := executeCLI(t, args...)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestQuoteYAMLOutput(t *testing.T) {
	stdout, _, err := executeCLI(t, "quote", "--config", fixture,
		"--tier", "starter", "--skip-flat-fee", "-o", "yaml")
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "starter", out["tier"])
}

func TestQuoteErrors(t *testing.T) {
	_, _, err := executeCLI(t, "quote", "--config", fixture, "--count", "query=1")
	assert.ErrorContains(t, err, `required flag(s) "tier" not set`)

	_, _, err = executeCLI(t, "quote", "--config", fixture, "--tier", "platinum")
	assert.ErrorContains(t, err, "not configured")

	_, _, err = executeCLI(t, "quote", "--config", fixture, "--tier", "starter", "--count", "query")
	assert.ErrorContains(t, err, "category=n")

	_, _, err = executeCLI(t, "quote", "--config", fixture, "--tier", "starter", "-o", "xml")
	assert.ErrorContains(t, err, "output format")
}

func TestTimeline(t *testing.T) {
	stdout, _, err := executeCLI(t, "timeline", "--config", fixture, "--due", "2024-04-24")
	require.NoError(t, err)

	var entries []timelineEntry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 6)
	assert.Equal(t, "2024-04-17", entries[0].Date)
	assert.Equal(t, "2024-04-24", entries[3].Date)
	assert.Equal(t, "2024-05-01", entries[5].Date)
}

func TestTimelineRejectsBadDate(t *testing.T) {
	_, _, err := executeCLI(t, "timeline", "--config", fixture, "--due", "24/04/2024")
	assert.ErrorContains(t, err, "YYYY-MM-DD")
}

func TestUnknownLogFormat(t *testing.T) {
	_, _, err := executeCLI(t, "timeline", "--config", fixture, "--due", "2024-04-24", "--log-format", "xml")
	assert.ErrorContains(t, err, "log format")
}

func TestBuildServesAPIAndMetrics(t *testing.T) {
	mr := miniredis.RunT(t)

	raw, err := os.ReadFile(fixture)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "tally.yaml")
	cfg := string(raw) + "redis:\n  addr: " + mr.Addr() + "\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	c := &cli{configPath: path}
	require.NoError(t, c.init(newRootCmd()))

	ctx := context.Background()
	srv, err := c.build(ctx)
	require.NoError(t, err)
	require.NoError(t, srv.engine.Start(ctx))
	t.Cleanup(func() {
		_ = srv.engine.Stop(ctx)
		_ = srv.redis.Close()
	})

	body := strings.NewReader(`{"name":"Acme","tier":"starter"}`)
	req := httptest.NewRequest("POST", "/tally/accounts", body)
	w := httptest.NewRecorder()
	srv.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	srv.handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tally_account_created_total 1")

	w = httptest.NewRecorder()
	srv.handler.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
