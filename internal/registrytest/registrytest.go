// Package registrytest provides an in-process OCI registry implementing the
// subset of the Distribution API the client speaks: version check with a
// bearer challenge, a token endpoint, manifest get/put, blob get, and
// chunked upload sessions. It exists so the end-to-end pull, push, and
// auth-handshake tests run without a real registry.
package registrytest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// Layer seeds one layer into a stored image.
type Layer struct {
	MediaType string
	Data      []byte
}

type manifestEntry struct {
	body      []byte
	mediaType string
}

type upload struct {
	repo string
	data []byte
}

// Registry is an in-memory OCI registry.
type Registry struct {
	mu        sync.Mutex
	manifests map[string]manifestEntry // repo "@" reference (tag or digest)
	blobs     map[string][]byte        // digest
	uploads   map[string]*upload       // session id
	nextID    int
	issued    map[string]bool
	lastScope string

	baseURL     string
	requireAuth bool
	basicOnly   bool
	tokenField  string
	username    string
	password    string
}

// Option configures a Registry.
type Option func(*Registry)

// WithTokenAuth makes every /v2/ resource require a bearer token issued by
// the registry's /token endpoint, advertised via a WWW-Authenticate
// challenge on the version check.
func WithTokenAuth() Option {
	return func(r *Registry) { r.requireAuth = true }
}

// WithAccessTokenField makes the token endpoint answer with the
// "access_token" JSON field instead of "token".
func WithAccessTokenField() Option {
	return func(r *Registry) { r.tokenField = "access_token" }
}

// WithCredentials requires HTTP Basic credentials at the token endpoint.
func WithCredentials(username, password string) Option {
	return func(r *Registry) {
		r.username = username
		r.password = password
	}
}

// WithBasicOnlyChallenge makes the version check answer with a Basic-only
// challenge (a registry in Docker v1 compatibility mode). Resources stay
// open; clients are expected to proceed without a token.
func WithBasicOnlyChallenge() Option {
	return func(r *Registry) { r.basicOnly = true }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		manifests:  make(map[string]manifestEntry),
		blobs:      make(map[string][]byte),
		uploads:    make(map[string]*upload),
		issued:     make(map[string]bool),
		tokenField: "token",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs the registry on an httptest server and returns its host
// (host:port, no scheme). The server is shut down with the test.
func (r *Registry) Start(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)
	r.SetBaseURL(srv.URL)
	return strings.TrimPrefix(srv.URL, "http://")
}

// SetBaseURL sets the public URL used in the bearer challenge realm.
func (r *Registry) SetBaseURL(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseURL = strings.TrimSuffix(url, "/")
}

// Handler returns the registry's HTTP handler.
func (r *Registry) Handler() http.Handler {
	router := chi.NewRouter()
	router.Get("/token", r.handleToken)
	router.Mount("/v2", http.HandlerFunc(r.route))
	return router
}

// SeedImage stores a complete image (blobs plus a generated manifest) and
// returns the manifest digest.
func (r *Registry) SeedImage(repo, tag, configMediaType string, config []byte, layers []Layer) string {
	manifest := v1.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: v1.MediaTypeImageManifest,
		Config: v1.Descriptor{
			MediaType: configMediaType,
			Digest:    digest.FromBytes(config),
			Size:      int64(len(config)),
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.blobs[manifest.Config.Digest.String()] = config
	for _, layer := range layers {
		d := digest.FromBytes(layer.Data)
		r.blobs[d.String()] = layer.Data
		manifest.Layers = append(manifest.Layers, v1.Descriptor{
			MediaType: layer.MediaType,
			Digest:    d,
			Size:      int64(len(layer.Data)),
		})
	}

	body, err := json.Marshal(manifest)
	if err != nil {
		panic(fmt.Sprintf("registrytest: marshaling seeded manifest: %v", err))
	}
	dig := digest.FromBytes(body).String()
	entry := manifestEntry{body: body, mediaType: v1.MediaTypeImageManifest}
	r.manifests[repo+"@"+tag] = entry
	r.manifests[repo+"@"+dig] = entry
	return dig
}

// Manifest returns a stored manifest body by tag or digest.
func (r *Registry) Manifest(repo, reference string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.manifests[repo+"@"+reference]
	return entry.body, ok
}

// Blob returns a stored blob by digest.
func (r *Registry) Blob(dig string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blobs[dig]
	return b, ok
}

// TokensIssued reports how many bearer tokens the /token endpoint handed out.
func (r *Registry) TokensIssued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.issued)
}

// LastScope returns the scope parameter of the most recent token request.
func (r *Registry) LastScope() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastScope
}

func (r *Registry) handleToken(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.username != "" {
		user, pass, ok := req.BasicAuth()
		if !ok || user != r.username || pass != r.password {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("invalid credentials"))
			return
		}
	}

	r.lastScope = req.URL.Query().Get("scope")

	token := fmt.Sprintf("registrytest-token-%d", len(r.issued)+1)
	r.issued[token] = true

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{r.tokenField: token})
}

func (r *Registry) route(w http.ResponseWriter, req *http.Request) {
	path := strings.TrimPrefix(req.URL.Path, "/v2")
	path = strings.TrimPrefix(path, "/")

	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")

	if path == "" {
		r.handleVersionCheck(w, req)
		return
	}

	if r.requireAuth && !r.authorized(req) {
		r.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	switch {
	case uploadPathPattern.MatchString(path):
		r.handleUpload(w, req, path)
	case strings.HasSuffix(path, "/blobs/uploads/"):
		r.handleUploadStart(w, req, path)
	case strings.Contains(path, "/blobs/"):
		r.handleBlob(w, req, path)
	case strings.Contains(path, "/manifests/"):
		r.handleManifest(w, req, path)
	default:
		r.writeError(w, http.StatusNotFound, "NAME_UNKNOWN", "not found")
	}
}

func (r *Registry) handleVersionCheck(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	baseURL := r.baseURL
	basicOnly := r.basicOnly
	requireAuth := r.requireAuth
	r.mu.Unlock()

	if basicOnly {
		w.Header().Set("WWW-Authenticate", `Basic realm="registrytest"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if requireAuth && !r.authorized(req) {
		w.Header().Set("WWW-Authenticate",
			fmt.Sprintf(`Bearer realm="%s/token",service="registrytest"`, baseURL))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (r *Registry) authorized(req *http.Request) bool {
	token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.issued[token]
}

var (
	manifestPathPattern = regexp.MustCompile(`^(.+)/manifests/(.+)$`)
	blobPathPattern     = regexp.MustCompile(`^(.+)/blobs/(sha256:[a-f0-9]+)$`)
	uploadPathPattern   = regexp.MustCompile(`^(.+)/blobs/uploads/(.+)$`)
)

func (r *Registry) handleManifest(w http.ResponseWriter, req *http.Request, path string) {
	matches := manifestPathPattern.FindStringSubmatch(path)
	if matches == nil {
		r.writeError(w, http.StatusBadRequest, "MANIFEST_UNKNOWN", "invalid manifest path")
		return
	}
	repo, reference := matches[1], matches[2]

	switch req.Method {
	case http.MethodGet, http.MethodHead:
		r.mu.Lock()
		entry, ok := r.manifests[repo+"@"+reference]
		r.mu.Unlock()
		if !ok {
			r.writeError(w, http.StatusNotFound, "MANIFEST_UNKNOWN", "manifest unknown")
			return
		}
		w.Header().Set("Content-Type", entry.mediaType)
		w.Header().Set("Docker-Content-Digest", digest.FromBytes(entry.body).String())
		w.WriteHeader(http.StatusOK)
		if req.Method == http.MethodGet {
			_, _ = w.Write(entry.body)
		}

	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			r.writeError(w, http.StatusBadRequest, "MANIFEST_INVALID", "unreadable body")
			return
		}
		dig := digest.FromBytes(body).String()
		entry := manifestEntry{body: body, mediaType: req.Header.Get("Content-Type")}
		r.mu.Lock()
		r.manifests[repo+"@"+reference] = entry
		r.manifests[repo+"@"+dig] = entry
		r.mu.Unlock()
		w.Header().Set("Location", "/v2/"+repo+"/manifests/"+dig)
		w.Header().Set("Docker-Content-Digest", dig)
		w.WriteHeader(http.StatusCreated)

	default:
		r.writeError(w, http.StatusMethodNotAllowed, "UNSUPPORTED", "method not allowed")
	}
}

func (r *Registry) handleBlob(w http.ResponseWriter, req *http.Request, path string) {
	matches := blobPathPattern.FindStringSubmatch(path)
	if matches == nil {
		r.writeError(w, http.StatusBadRequest, "BLOB_UNKNOWN", "invalid blob path")
		return
	}
	dig := matches[2]

	r.mu.Lock()
	blob, ok := r.blobs[dig]
	r.mu.Unlock()
	if !ok {
		r.writeError(w, http.StatusNotFound, "BLOB_UNKNOWN", "blob unknown")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Docker-Content-Digest", dig)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
	w.WriteHeader(http.StatusOK)
	if req.Method != http.MethodHead {
		_, _ = w.Write(blob)
	}
}

func (r *Registry) handleUploadStart(w http.ResponseWriter, req *http.Request, path string) {
	if req.Method != http.MethodPost {
		r.writeError(w, http.StatusMethodNotAllowed, "UNSUPPORTED", "method not allowed")
		return
	}
	repo := strings.TrimSuffix(path, "/blobs/uploads/")

	r.mu.Lock()
	r.nextID++
	id := fmt.Sprintf("session-%d", r.nextID)
	r.uploads[id] = &upload{repo: repo}
	r.mu.Unlock()

	// Path-only Location with a session query, as real registries send.
	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/uploads/%s?state=0", repo, id))
	w.WriteHeader(http.StatusAccepted)
}

func (r *Registry) handleUpload(w http.ResponseWriter, req *http.Request, path string) {
	matches := uploadPathPattern.FindStringSubmatch(path)
	if matches == nil {
		r.writeError(w, http.StatusBadRequest, "BLOB_UPLOAD_INVALID", "invalid upload path")
		return
	}
	repo, id := matches[1], matches[2]

	r.mu.Lock()
	session, ok := r.uploads[id]
	r.mu.Unlock()
	if !ok {
		r.writeError(w, http.StatusNotFound, "BLOB_UPLOAD_UNKNOWN", "upload session unknown")
		return
	}

	switch req.Method {
	case http.MethodPatch:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			r.writeError(w, http.StatusBadRequest, "BLOB_UPLOAD_INVALID", "unreadable body")
			return
		}
		r.mu.Lock()
		if contentRange := req.Header.Get("Content-Range"); contentRange != "" {
			start, _, _ := strings.Cut(contentRange, "-")
			if start != strconv.Itoa(len(session.data)) {
				expected := len(session.data)
				r.mu.Unlock()
				r.writeError(w, http.StatusRequestedRangeNotSatisfiable, "BLOB_UPLOAD_INVALID",
					fmt.Sprintf("expected range starting at %d, got %s", expected, contentRange))
				return
			}
		}
		session.data = append(session.data, body...)
		offset := len(session.data)
		r.mu.Unlock()
		w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/uploads/%s?state=%d", repo, id, offset))
		w.WriteHeader(http.StatusAccepted)

	case http.MethodPut:
		dig := req.URL.Query().Get("digest")
		if dig == "" {
			r.writeError(w, http.StatusBadRequest, "DIGEST_INVALID", "missing digest parameter")
			return
		}
		r.mu.Lock()
		data := session.data
		r.mu.Unlock()
		if computed := digest.FromBytes(data).String(); computed != dig {
			r.writeError(w, http.StatusBadRequest, "DIGEST_INVALID",
				fmt.Sprintf("digest mismatch: computed %s", computed))
			return
		}
		r.mu.Lock()
		r.blobs[dig] = data
		delete(r.uploads, id)
		r.mu.Unlock()
		w.Header().Set("Location", "/v2/"+repo+"/blobs/"+dig)
		w.WriteHeader(http.StatusCreated)

	default:
		r.writeError(w, http.StatusMethodNotAllowed, "UNSUPPORTED", "method not allowed")
	}
}

// writeError writes an OCI-compliant error envelope.
func (r *Registry) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]string{
			{"code": code, "message": message},
		},
	})
}
