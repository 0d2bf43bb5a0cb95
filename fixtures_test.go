package openapitools

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
)

const petstoreYAML = `openapi: 3.0.3
info:
  title: Petstore
  version: 1.0.0
servers:
  - url: BASE_URL
paths:
  /pets:
    get:
      operationId: listPets
      summary: List pets
      parameters:
        - name: limit
          in: query
          schema:
            type: integer
        - name: tags
          in: query
          schema:
            type: array
            items:
              type: string
        - name: X-Request-ID
          in: header
          schema:
            type: string
        - name: session
          in: cookie
          schema:
            type: string
      responses:
        "200":
          description: ok
    post:
      operationId: createPet
      summary: ignored summary
      description: Create a pet
      requestBody:
        required: true
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/NewPet'
      responses:
        "201":
          description: created
  /pets/{petId}:
    parameters:
      - $ref: '#/components/parameters/PetId'
    get:
      summary: Get a pet
      responses:
        "200":
          description: ok
    delete:
      operationId: deletePet
      responses:
        "204":
          description: deleted
  /pets/{petId}/photo:
    put:
      operationId: uploadPhotoURL
      parameters:
        - $ref: '#/components/parameters/PetId'
      requestBody:
        content:
          application/x-www-form-urlencoded:
            schema:
              type: object
              properties:
                url:
                  type: string
                caption:
                  type: string
      responses:
        "200":
          description: ok
  /tags:
    post:
      operationId: replaceTags
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: array
              items:
                type: string
      responses:
        "200":
          description: ok
components:
  parameters:
    PetId:
      name: petId
      in: path
      required: true
      description: Pet identifier
      schema:
        type: integer
  schemas:
    NewPet:
      type: object
      required:
        - name
      properties:
        name:
          type: string
        tag:
          type: string
`

// petstoreToolNames is the index order of the petstore operations.
var petstoreToolNames = []string{
	"listPets",
	"createPet",
	"get_pets_{petId}",
	"deletePet",
	"uploadPhotoURL",
	"replaceTags",
}

// testLogger writes warnings and above to w.
func testLogger(w io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "test",
		Level:  hclog.Warn,
		Output: w,
	})
}

func petstore(baseURL string) string {
	return strings.ReplaceAll(petstoreYAML, "BASE_URL", baseURL)
}

func encode(doc string) string {
	return base64.StdEncoding.EncodeToString([]byte(doc))
}

// opsDoc returns a JSON document with one GET operation per id.
func opsDoc(baseURL string, ids ...string) string {
	paths := map[string]interface{}{}
	for _, id := range ids {
		paths["/"+id] = map[string]interface{}{
			"get": map[string]interface{}{
				"operationId": id,
				"summary":     "operation " + id,
				"responses":   map[string]interface{}{"200": map[string]interface{}{"description": "ok"}},
			},
		}
	}
	doc := map[string]interface{}{
		"openapi": "3.0.3",
		"info":    map[string]interface{}{"title": "ops", "version": "1.0.0"},
		"servers": []interface{}{map[string]interface{}{"url": baseURL}},
		"paths":   paths,
	}
	data, _ := json.Marshal(doc)
	return string(data)
}

type recordedRequest struct {
	Method      string
	Path        string
	RawPath     string
	Query       string
	Header      http.Header
	ContentType string
	Body        string
}

// apiServer is an httptest server that records requests and answers with a
// fixed status and body unless a handler overrides the route.
type apiServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
	status   int
	body     string
	routes   map[string]http.HandlerFunc
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()
	s := &apiServer{status: http.StatusOK, body: `{"ok":true}`, routes: map[string]http.HandlerFunc{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *apiServer) serve(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, recordedRequest{
		Method:      r.Method,
		Path:        r.URL.Path,
		RawPath:     r.URL.EscapedPath(),
		Query:       r.URL.RawQuery,
		Header:      r.Header.Clone(),
		ContentType: r.Header.Get("Content-Type"),
		Body:        string(data),
	})
	handler, ok := s.routes[r.Method+" "+r.URL.Path]
	status, body := s.status, s.body
	s.mu.Unlock()

	if ok {
		handler(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (s *apiServer) respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

func (s *apiServer) handle(route string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[route] = h
}

func (s *apiServer) recorded() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *apiServer) last(t *testing.T) recordedRequest {
	t.Helper()
	reqs := s.recorded()
	if len(reqs) == 0 {
		t.Fatal("no request recorded")
	}
	return reqs[len(reqs)-1]
}
