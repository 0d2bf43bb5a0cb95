package main

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	openapitools "github.com/oriagent/ori-openapitools"
)

const testDocument = `openapi: 3.0.3
info:
  title: Greeter
  version: 1.0.0
servers:
  - url: BASE_URL
paths:
  /greet/{name}:
    get:
      operationId: greet
      summary: Greet someone
      parameters:
        - name: name
          in: path
          required: true
          schema:
            type: string
        - name: loud
          in: query
          schema:
            type: boolean
      responses:
        "200":
          description: ok
`

// writeDocument writes the test document pointing at baseURL and returns its path.
func writeDocument(t *testing.T, baseURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "greeter.yaml")
	doc := strings.ReplaceAll(testDocument, "BASE_URL", baseURL)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestToolsCommand(t *testing.T) {
	path := writeDocument(t, "https://greeter.example.com")

	out, _, err := run(t, "tools", "--file", path, "--format", "json")
	require.NoError(t, err)

	var tools []openapitools.Tool
	require.NoError(t, json.Unmarshal([]byte(out), &tools))
	require.Len(t, tools, 1)
	assert.Equal(t, "greet", tools[0].Name)
	assert.Equal(t, "Greet someone", tools[0].Description)

	out, _, err = run(t, "tools", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "loud,name*")
}

func TestCallCommand(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"message":"HELLO ADA"}`)
	}))
	defer srv.Close()
	path := writeDocument(t, srv.URL)

	out, _, err := run(t, "call", "greet", "--file", path, "--args", `{"name":"ada","loud":true}`)
	require.NoError(t, err)
	assert.Equal(t, "/greet/ada", gotPath)
	assert.Equal(t, "loud=true", gotQuery)
	assert.JSONEq(t, `{"tool":"greet","result":{"message":"HELLO ADA"}}`, out)

	out, _, err = run(t, "call", "greet", "--file", path, "--args", `{}`)
	require.ErrorIs(t, err, openapitools.ErrInvalidArguments)
	assert.Contains(t, out, `"error"`)

	_, _, err = run(t, "call", "wave", "--file", path)
	require.ErrorIs(t, err, openapitools.ErrToolNotFound)
}

func TestValidateCommand(t *testing.T) {
	path := writeDocument(t, "https://greeter.example.com")

	out, _, err := run(t, "validate", "--file", path)
	require.NoError(t, err)
	assert.Equal(t, "ok: \"Greeter\" openapi 3.0.3, 1 operations\n", out)

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("openapi: 3.0.3\npaths: {}\n"), 0o600))
	_, _, err = run(t, "validate", "--file", broken)
	require.ErrorIs(t, err, openapitools.ErrInvalidSpec)
}

func TestSourceErrors(t *testing.T) {
	_, stderr, err := run(t, "tools")
	require.Error(t, err)
	assert.Contains(t, stderr, "a source argument or --file is required")

	_, _, err = run(t, "tools", "--file", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, _, err = run(t, "tools", "abc", "--type", "ftp")
	require.Error(t, err)

	_, _, err = run(t, "tools", "abc", "--type", "BASE64", "--format", "xml")
	require.Error(t, err)
}

func TestServeRequiresConfig(t *testing.T) {
	_, _, err := run(t, "serve", "--config", filepath.Join(t.TempDir(), "none.yaml"))
	require.ErrorIs(t, err, openapitools.ErrInvalidConfig)
}

func TestServeRejectsBadFlags(t *testing.T) {
	config := filepath.Join(t.TempDir(), "openapi-tools.yaml")
	require.NoError(t, os.WriteFile(config, []byte("name: t\nversion: 1.0.0\nsources: []\n"), 0o600))

	_, _, err := run(t, "serve", "--config", config, "--transport", "http")
	require.ErrorIs(t, err, openapitools.ErrInvalidConfig)

	_, _, err = run(t, "serve", "--config", config, "--listen", "localhost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --listen address")
}

func TestMetricsServerHealth(t *testing.T) {
	registry := openapitools.NewRegistry(openapitools.NewExecutor())
	srv := newMetricsServer("127.0.0.1:0", prometheus.NewRegistry(), registry)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","tools":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
