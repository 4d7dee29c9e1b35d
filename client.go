package oci

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/oci/internal/metrics"
)

// Client speaks the OCI Distribution API against one or more registries.
//
// The only mutable state is the per-registry token cache, so a single
// Client is safe for concurrent use. Concurrent first-time operations
// against the same registry may each run the auth handshake; the last
// token written wins, which is harmless because tokens for equivalent
// scope are interchangeable.
type Client struct {
	config ClientConfig
	http   *http.Client
	logger *slog.Logger

	mu     sync.RWMutex
	tokens map[string]registryToken
}

// New creates a Client with the supplied config.
func New(config ClientConfig) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	if config.UserAgent == "" {
		config.UserAgent = "git-pkgs-oci/1.0"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: config,
		http:   httpClient,
		logger: logger,
		tokens: make(map[string]registryToken),
	}
}

// FromSource creates a Client from anything that can provide a ClientConfig.
func FromSource(source ConfigSource) *Client {
	return New(source.ClientConfig())
}

// Pull fetches an image: manifest first, then every layer concurrently.
//
// Each layer's media type must appear in acceptedMediaTypes; the check runs
// before any blob I/O and an empty accepted set rejects every image. Layer
// fetches are fail-fast: the first error cancels the remaining fetches.
func (c *Client) Pull(ctx context.Context, image Reference, auth RegistryAuth, acceptedMediaTypes []string) (*ImageData, error) {
	c.logger.Debug("pulling image", "image", image.String())

	if err := c.ensureAuthenticated(ctx, image, auth, OperationPull); err != nil {
		return nil, err
	}

	manifest, dig, err := c.pullManifest(ctx, image)
	if err != nil {
		return nil, err
	}

	if err := validateLayers(manifest, acceptedMediaTypes); err != nil {
		return nil, err
	}

	layers := make([]ImageLayer, len(manifest.Layers))
	g, gctx := errgroup.WithContext(ctx)
	for i, descriptor := range manifest.Layers {
		g.Go(func() error {
			var buf bytes.Buffer
			c.logger.Debug("pulling layer", "digest", descriptor.Digest.String())
			if err := c.pullLayer(gctx, image, descriptor.Digest.String(), &buf); err != nil {
				return err
			}
			layers[i] = NewImageLayer(buf.Bytes(), descriptor.MediaType)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &ImageData{Layers: layers, ManifestDigest: dig}, nil
}

// Push uploads an image and returns its pullable URL.
//
// Layers are pushed strictly in manifest order through a single upload
// session, followed by the config blob in its own session and finally the
// manifest. When manifest is nil one is generated from the image data; the
// generated layer descriptors carry an org.opencontainers.image.title
// annotation holding the layer digest.
func (c *Client) Push(ctx context.Context, image Reference, data *ImageData, configData []byte, configMediaType string, auth RegistryAuth, manifest *v1.Manifest) (string, error) {
	c.logger.Debug("pushing image", "image", image.String())

	if err := c.ensureAuthenticated(ctx, image, auth, OperationPush); err != nil {
		return "", err
	}

	location, err := c.beginPushSession(ctx, image)
	if err != nil {
		return "", err
	}

	var startByte int64
	for _, layer := range data.Layers {
		location, startByte, err = c.pushLayer(ctx, location, image, layer.Data, startByte)
		if err != nil {
			return "", err
		}
	}

	imageURL, err := c.endPushSession(ctx, location, image, data.Digest())
	if err != nil {
		return "", err
	}

	if manifest == nil {
		generated := generateManifest(data, configData, configMediaType)
		manifest = &generated
	}

	if _, err := c.pushConfig(ctx, image, configData, manifest.Config.Digest.String()); err != nil {
		return "", err
	}
	if _, err := c.pushManifest(ctx, image, manifest); err != nil {
		return "", err
	}

	return imageURL, nil
}

// FetchManifestDigest returns the Docker-Content-Digest of the image's
// manifest. It issues a GET on the manifest URL and reads only the digest
// response header; the manifest body is not parsed.
func (c *Client) FetchManifestDigest(ctx context.Context, image Reference, auth RegistryAuth) (string, error) {
	if err := c.ensureAuthenticated(ctx, image, auth, OperationPull); err != nil {
		return "", err
	}

	manifestURL := c.manifestURL(image)
	c.logger.Debug("fetching manifest digest", "url", manifestURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.requestHeaders(req, image)

	resp, err := c.do(req, "manifest_head")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	// The distribution spec only allows 200, 401, 404, and 500 here, but
	// HTTP servers send all sorts. Catch the obvious classes.
	switch {
	case resp.StatusCode == http.StatusOK:
		return digestHeader(resp)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", registryErrorFromResponse(resp, manifestURL)
	case resp.StatusCode >= 500:
		return "", &ServerError{URL: manifestURL, Status: resp.StatusCode}
	default:
		return "", unexpectedStatus(resp)
	}
}

// requestHeaders sets the headers every registry request carries: the
// Accept list, the User-Agent, and the bearer token when one is cached for
// the image's registry.
func (c *Client) requestHeaders(req *http.Request, image Reference) {
	req.Header.Set("Accept", strings.Join([]string{
		DockerManifestMediaType,
		DockerManifestListMediaType,
		v1.MediaTypeImageManifest,
	}, ","))
	req.Header.Set("User-Agent", c.config.UserAgent)

	c.mu.RLock()
	token, ok := c.tokens[image.Registry()]
	c.mu.RUnlock()
	if ok && token.value() != "" {
		req.Header.Set("Authorization", token.bearer())
	}
}

// do executes a request and records request metrics. Transport failures
// are wrapped with the operation name.
func (c *Client) do(req *http.Request, operation string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordTransportError(operation)
		return nil, fmt.Errorf("%s request: %w", operation, err)
	}
	metrics.RecordRequest(operation, resp.StatusCode, time.Since(start))
	return resp, nil
}
