package openapitools

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, srv *apiServer, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{WithHTTPClient(srv.Client())}, opts...)
	return NewRegistry(NewExecutor(opts...), opts...)
}

func toolNames(tools []Tool) []string {
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	return names
}

func TestRegistryRegisterAndCall(t *testing.T) {
	srv := newAPIServer(t)
	srv.respond(http.StatusOK, `{"id":3}`)
	reg := newTestRegistry(t, srv)

	names, err := reg.Register(context.Background(), RegistrationRequest{
		Name:   "petstore",
		Source: encode(petstore(srv.URL)),
		Type:   SourceBase64,
	})
	require.NoError(t, err)
	assert.Equal(t, petstoreToolNames, names)
	assert.Len(t, reg.List(), len(petstoreToolNames))

	result, err := reg.Call(context.Background(), "get_pets_{petId}", map[string]interface{}{"petId": 3})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"id": float64(3)}, result)
	assert.Equal(t, "/pets/3", srv.last(t).Path)

	_, err = reg.Call(context.Background(), "nope", nil)
	require.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistryListIsSorted(t *testing.T) {
	srv := newAPIServer(t)
	reg := newTestRegistry(t, srv)

	_, err := reg.Register(context.Background(), RegistrationRequest{Source: encode(opsDoc(srv.URL, "zeta", "alpha", "mid")), Type: SourceBase64})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, toolNames(reg.List()))
}

func TestRegistryCollisionIsAtomic(t *testing.T) {
	srv := newAPIServer(t)
	reg := newTestRegistry(t, srv)
	ctx := context.Background()

	_, err := reg.Register(ctx, RegistrationRequest{Name: "first", Source: encode(opsDoc(srv.URL, "alpha", "shared")), Type: SourceBase64})
	require.NoError(t, err)

	_, err = reg.Register(ctx, RegistrationRequest{Name: "second", Source: encode(opsDoc(srv.URL, "beta", "shared")), Type: SourceBase64})
	require.ErrorIs(t, err, ErrToolRegistration)
	require.ErrorIs(t, err, ErrToolExists)

	assert.Equal(t, []string{"alpha", "shared"}, toolNames(reg.List()))
	_, err = reg.Get("beta")
	require.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistryRejectsDuplicatesWithinDocument(t *testing.T) {
	srv := newAPIServer(t)
	reg := newTestRegistry(t, srv)

	src := `openapi: 3.0.3
info: {title: dup, version: "1"}
servers: [{url: "` + srv.URL + `"}]
paths:
  /a:
    get: {operationId: same}
  /b:
    get: {operationId: same}
  /c:
    get: {operationId: unique}
`
	_, err := reg.Register(context.Background(), RegistrationRequest{Source: encode(src), Type: SourceBase64})
	require.ErrorIs(t, err, ErrToolExists)
	assert.Empty(t, reg.List())
}

func TestRegistryRejectsDuplicateSourceName(t *testing.T) {
	srv := newAPIServer(t)
	reg := newTestRegistry(t, srv)
	ctx := context.Background()

	_, err := reg.Register(ctx, RegistrationRequest{Name: "api", Source: encode(opsDoc(srv.URL, "one")), Type: SourceBase64})
	require.NoError(t, err)

	_, err = reg.Register(ctx, RegistrationRequest{Name: "api", Source: encode(opsDoc(srv.URL, "two")), Type: SourceBase64})
	require.ErrorIs(t, err, ErrToolExists)
	assert.Equal(t, []string{"one"}, toolNames(reg.List()))
}

func TestRegistryInvalidSpec(t *testing.T) {
	srv := newAPIServer(t)
	reg := newTestRegistry(t, srv)

	_, err := reg.Register(context.Background(), RegistrationRequest{Source: "%%%", Type: SourceBase64})
	require.ErrorIs(t, err, ErrInvalidSpec)

	_, err = reg.Register(context.Background(), RegistrationRequest{})
	require.ErrorIs(t, err, ErrInvalidSpec)

	assert.Empty(t, reg.List())
}

func TestRegistryDelete(t *testing.T) {
	srv := newAPIServer(t)
	reg := newTestRegistry(t, srv)

	_, err := reg.Register(context.Background(), RegistrationRequest{Source: encode(opsDoc(srv.URL, "a", "b")), Type: SourceBase64})
	require.NoError(t, err)

	require.NoError(t, reg.Delete("a"))
	require.ErrorIs(t, reg.Delete("a"), ErrToolNotFound)
	_, err = reg.Get("a")
	require.ErrorIs(t, err, ErrToolNotFound)

	_, ok := reg.executor.Document(srv.URL)
	assert.True(t, ok, "document stays cached while b uses it")

	require.NoError(t, reg.Delete("b"))
	_, ok = reg.executor.Document(srv.URL)
	assert.False(t, ok)

	// The freed name can be registered again.
	_, err = reg.Register(context.Background(), RegistrationRequest{Source: encode(opsDoc(srv.URL, "a")), Type: SourceBase64})
	require.NoError(t, err)
}

func TestRegistryDescriptions(t *testing.T) {
	srv := newAPIServer(t)
	reg := newTestRegistry(t, srv)

	_, err := reg.Register(context.Background(), RegistrationRequest{
		Source:       encode(opsDoc(srv.URL, "a", "b")),
		Type:         SourceBase64,
		Descriptions: map[string]string{"a": "configured"},
	})
	require.NoError(t, err)

	a, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "configured", a.Description)

	tool, err := reg.UpdateDescription("b", "updated")
	require.NoError(t, err)
	assert.Equal(t, "updated", tool.Description)

	b, err := reg.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "updated", b.Description)

	_, err = reg.UpdateDescription("missing", "x")
	require.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistryPersistence(t *testing.T) {
	srv := newAPIServer(t)
	storePath := filepath.Join(t.TempDir(), "state", "store.json")
	ctx := context.Background()

	store, err := OpenStore(storePath)
	require.NoError(t, err)
	reg := newTestRegistry(t, srv, WithStore(store))

	_, err = reg.Register(ctx, RegistrationRequest{
		Name:    "petstore",
		Source:  encode(petstore(srv.URL)),
		Type:    SourceBase64,
		Timeout: 3 * time.Second,
	})
	require.NoError(t, err)
	_, err = reg.Register(ctx, RegistrationRequest{Name: "ops", Source: encode(opsDoc(srv.URL, "ping")), Type: SourceBase64})
	require.NoError(t, err)
	_, err = reg.UpdateDescription("listPets", "All the pets")
	require.NoError(t, err)

	// Deleting the only tool of a source drops the source.
	require.NoError(t, reg.Delete("ping"))

	reopened, err := OpenStore(storePath)
	require.NoError(t, err)
	stored, ok := reopened.Get("petstore")
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, time.Duration(stored.Timeout))
	_, ok = reopened.Get("ops")
	assert.False(t, ok)

	restored := newTestRegistry(t, srv, WithStore(reopened))
	names, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, petstoreToolNames, names)

	list, err := restored.Get("listPets")
	require.NoError(t, err)
	assert.Equal(t, "All the pets", list.Description)
}

func TestRegistryLoadConfig(t *testing.T) {
	srv := newAPIServer(t)
	reg := newTestRegistry(t, srv)

	cfg := &Config{
		Name:    "test",
		Version: "1.0.0",
		Sources: []SourceConfig{
			{Name: "one", Source: encode(opsDoc(srv.URL, "a", "b")), Type: string(SourceBase64)},
			{Name: "broken", Source: srv.URL + "/missing.json", Type: string(SourceURL)},
			{Name: "clash", Source: encode(opsDoc(srv.URL, "b", "c")), Type: string(SourceBase64)},
			{Name: "two", Source: encode(opsDoc(srv.URL, "d")), Type: string(SourceBase64), Descriptions: map[string]string{"d": "dee"}},
		},
	}
	srv.handle("GET /missing.json", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	names, err := reg.LoadConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "d"}, names)
	assert.Equal(t, []string{"a", "b", "d"}, toolNames(reg.List()))

	d, err := reg.Get("d")
	require.NoError(t, err)
	assert.Equal(t, "dee", d.Description)
}

func TestRegistryLoadConfigCancelled(t *testing.T) {
	srv := newAPIServer(t)
	reg := newTestRegistry(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := reg.LoadConfig(ctx, &Config{Sources: []SourceConfig{
		{Name: "remote", Source: srv.URL + "/openapi.json", Type: string(SourceURL)},
	}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRegistryConcurrentRegistration(t *testing.T) {
	srv := newAPIServer(t)
	reg := newTestRegistry(t, srv)

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every pair of workers shares one tool name, so exactly one of each pair wins.
			ids := []string{fmt.Sprintf("own%d", i), fmt.Sprintf("pair%d", i/2)}
			_, errs[i] = reg.Register(context.Background(), RegistrationRequest{Source: encode(opsDoc(srv.URL, ids...)), Type: SourceBase64})
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrToolExists)
			failed++
		}
	}
	assert.Equal(t, workers/2, failed)
	assert.Len(t, reg.List(), workers)

	for i := 0; i < workers; i += 2 {
		_, errA := reg.Get(fmt.Sprintf("own%d", i))
		_, errB := reg.Get(fmt.Sprintf("own%d", i+1))
		assert.True(t, (errA == nil) != (errB == nil), "exactly one of own%d and own%d is registered", i, i+1)
	}
}

func TestRegistryTimeout(t *testing.T) {
	srv := newAPIServer(t)
	srv.handle("GET /slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	})
	reg := newTestRegistry(t, srv)

	_, err := reg.Register(context.Background(), RegistrationRequest{
		Source:  encode(opsDoc(srv.URL, "slow")),
		Type:    SourceBase64,
		Timeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = reg.Call(context.Background(), "slow", nil)
	require.ErrorIs(t, err, ErrExternalAPI)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistryFailedPersistIsNotRestored(t *testing.T) {
	srv := newAPIServer(t)
	dir := filepath.Join(t.TempDir(), "state")
	storePath := filepath.Join(dir, "store.json")
	ctx := context.Background()

	store, err := OpenStore(storePath)
	require.NoError(t, err)
	reg := newTestRegistry(t, srv, WithStore(store))

	require.NoError(t, os.WriteFile(dir, []byte("blocked"), 0o600))
	_, err = reg.Register(ctx, RegistrationRequest{Name: "broken", Source: encode(opsDoc(srv.URL, "a")), Type: SourceBase64})
	require.ErrorIs(t, err, ErrToolRegistration)
	assert.Empty(t, reg.List())

	require.NoError(t, os.Remove(dir))
	_, err = reg.Register(ctx, RegistrationRequest{Name: "ok", Source: encode(opsDoc(srv.URL, "b")), Type: SourceBase64})
	require.NoError(t, err)

	reopened, err := OpenStore(storePath)
	require.NoError(t, err)
	names, err := newTestRegistry(t, srv, WithStore(reopened)).Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)
}

func TestRegistryFailedRegistrationForgetsUnusedBaseURL(t *testing.T) {
	srv := newAPIServer(t)
	reg := newTestRegistry(t, srv)
	ctx := context.Background()

	_, err := reg.Register(ctx, RegistrationRequest{Name: "a", Source: encode(opsDoc(srv.URL, "shared")), Type: SourceBase64})
	require.NoError(t, err)

	other := "https://other.example.com"
	_, err = reg.Register(ctx, RegistrationRequest{Source: encode(opsDoc(other, "shared")), Type: SourceBase64})
	require.ErrorIs(t, err, ErrToolExists)
	_, ok := reg.executor.Document(other)
	assert.False(t, ok)

	// A collision on a base URL that registered tools still use keeps it cached.
	_, err = reg.Register(ctx, RegistrationRequest{Name: "a", Source: encode(opsDoc(srv.URL, "fresh")), Type: SourceBase64})
	require.ErrorIs(t, err, ErrToolExists)
	_, ok = reg.executor.Document(srv.URL)
	assert.True(t, ok)
}
