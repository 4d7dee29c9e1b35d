package oci

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// versioned is the minimal shape checked before a body is trusted to be an
// image manifest.
type versioned struct {
	SchemaVersion int    `json:"schemaVersion"`
	MediaType     string `json:"mediaType,omitempty"`
}

// validateManifest gates a manifest body: schemaVersion must be 2 and the
// mediaType, when present, must be the OCI image manifest type. Manifest
// lists are not handled.
func validateManifest(body []byte) error {
	var v versioned
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("parsing manifest as a versioned object: %w", err)
	}
	if v.SchemaVersion != 2 {
		return fmt.Errorf("%w: %d", ErrUnsupportedSchemaVersion, v.SchemaVersion)
	}
	if v.MediaType != "" && v.MediaType != v1.MediaTypeImageManifest {
		return fmt.Errorf("%w: %s", ErrUnsupportedMediaType, v.MediaType)
	}
	return nil
}

// validateLayers gates a manifest against the caller's accepted layer media
// types before any blob I/O starts. An empty accepted set rejects every
// non-empty manifest.
func validateLayers(manifest *v1.Manifest, acceptedMediaTypes []string) error {
	if len(manifest.Layers) == 0 {
		return ErrNoLayers
	}
	for _, layer := range manifest.Layers {
		if !slices.Contains(acceptedMediaTypes, layer.MediaType) {
			return fmt.Errorf("%w: %s", ErrIncompatibleMediaType, layer.MediaType)
		}
	}
	return nil
}

// pullManifest fetches and validates the image manifest, returning it with
// the digest the registry reports for it.
func (c *Client) pullManifest(ctx context.Context, image Reference) (*v1.Manifest, string, error) {
	manifestURL := c.manifestURL(image)
	c.logger.Debug("pulling manifest", "url", manifestURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	c.requestHeaders(req, image)

	resp, err := c.do(req, "manifest_get")
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		dig, err := digestHeader(resp)
		if err != nil {
			return nil, "", err
		}

		var body bytes.Buffer
		if _, err := body.ReadFrom(resp.Body); err != nil {
			return nil, "", fmt.Errorf("reading manifest body: %w", err)
		}
		if err := validateManifest(body.Bytes()); err != nil {
			return nil, "", err
		}

		var manifest v1.Manifest
		if err := json.Unmarshal(body.Bytes(), &manifest); err != nil {
			return nil, "", fmt.Errorf("parsing manifest for %q: %w", image.String(), err)
		}
		return &manifest, dig, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, "", registryErrorFromResponse(resp, manifestURL)
	case resp.StatusCode >= 500:
		return nil, "", &ServerError{URL: manifestURL, Status: resp.StatusCode}
	default:
		return nil, "", unexpectedStatus(resp)
	}
}

// pushManifest PUTs the serialized manifest and returns the Location the
// registry answers with.
func (c *Client) pushManifest(ctx context.Context, image Reference, manifest *v1.Manifest) (string, error) {
	manifestURL := c.manifestURL(image)
	c.logger.Debug("pushing manifest", "url", manifestURL)

	body, err := json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("serializing manifest: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, manifestURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.requestHeaders(req, image)
	req.Header.Set("Content-Type", v1.MediaTypeImageManifest)

	resp, err := c.do(req, "manifest_put")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	return c.extractLocation(image, resp, http.StatusCreated)
}

// generateManifest synthesizes a manifest for image data being pushed
// without one. Each layer descriptor is annotated with
// org.opencontainers.image.title holding the layer digest.
func generateManifest(data *ImageData, configData []byte, configMediaType string) v1.Manifest {
	manifest := v1.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: v1.MediaTypeImageManifest,
		Config: v1.Descriptor{
			MediaType: configMediaType,
			Digest:    digest.FromBytes(configData),
			Size:      int64(len(configData)),
		},
	}

	for _, layer := range data.Layers {
		layerDigest := digest.FromBytes(layer.Data)
		manifest.Layers = append(manifest.Layers, v1.Descriptor{
			MediaType: layer.MediaType,
			Digest:    layerDigest,
			Size:      int64(len(layer.Data)),
			Annotations: map[string]string{
				v1.AnnotationTitle: layerDigest.String(),
			},
		})
	}

	return manifest
}

// digestHeader returns the Docker-Content-Digest header value.
func digestHeader(resp *http.Response) (string, error) {
	dig := resp.Header.Get("Docker-Content-Digest")
	if dig == "" {
		return "", ErrMissingDigestHeader
	}
	return dig, nil
}
