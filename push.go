package oci

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/git-pkgs/oci/internal/metrics"
)

// beginPushSession opens an upload session for the image's repository.
// The registry answers 202 Accepted with a Location identifying the
// session; every subsequent step threads the Location it received.
func (c *Client) beginPushSession(ctx context.Context, image Reference) (string, error) {
	uploadURL := c.blobUploadURL(image)
	c.logger.Debug("beginning push session", "url", uploadURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.requestHeaders(req, image)
	req.Header.Set("Content-Length", "0")

	resp, err := c.do(req, "upload_begin")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	return c.extractLocation(image, resp, http.StatusAccepted)
}

// pushLayer PATCHes one chunk of the session at the given byte offset.
// Returns the Location for the next step and the next start byte.
func (c *Client) pushLayer(ctx context.Context, location string, image Reference, chunk []byte, startByte int64) (string, int64, error) {
	if len(chunk) == 0 {
		return "", 0, ErrEmptyLayer
	}
	endByte := startByte + int64(len(chunk)) - 1

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, location, bytes.NewReader(chunk))
	if err != nil {
		return "", 0, fmt.Errorf("creating request: %w", err)
	}
	c.requestHeaders(req, image)
	req.Header.Set("Content-Range", fmt.Sprintf("%d-%d", startByte, endByte))
	req.Header.Set("Content-Type", octetStreamMediaType)
	req.ContentLength = int64(len(chunk))

	resp, err := c.do(req, "upload_chunk")
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	next, err := c.extractLocation(image, resp, http.StatusAccepted)
	if err != nil {
		return "", 0, err
	}
	metrics.RecordBlobBytes("push", int64(len(chunk)))
	return next, endByte + 1, nil
}

// endPushSession finalizes the session by PUTting the content digest.
// The registry answers 201 Created with the pullable blob URL.
func (c *Client) endPushSession(ctx context.Context, location string, image Reference, digest string) (string, error) {
	finalizeURL := fmt.Sprintf("%s&digest=%s", location, digest)
	c.logger.Debug("ending push session", "url", finalizeURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, finalizeURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.requestHeaders(req, image)
	req.Header.Set("Content-Length", "0")

	resp, err := c.do(req, "upload_finalize")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	return c.extractLocation(image, resp, http.StatusCreated)
}

// pushConfig uploads the config blob as a single-chunk session and returns
// its pullable location.
func (c *Client) pushConfig(ctx context.Context, image Reference, configData []byte, configDigest string) (string, error) {
	location, err := c.beginPushSession(ctx, image)
	if err != nil {
		return "", err
	}
	location, _, err = c.pushLayer(ctx, location, image, configData, 0)
	if err != nil {
		return "", err
	}
	return c.endPushSession(ctx, location, image, configDigest)
}

// extractLocation checks the response status and returns its Location
// header rewritten to an absolute URL.
func (c *Client) extractLocation(image Reference, resp *http.Response, expectedStatus int) (string, error) {
	if resp.StatusCode != expectedStatus {
		return "", unexpectedStatus(resp)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", ErrMissingLocationHeader
	}
	return c.locationToURL(image, location), nil
}

// locationToURL absolutizes a Location header. Registries hand back either
// full URLs or bare /v2/ paths; the latter get the scheme and registry
// host prepended.
func (c *Client) locationToURL(image Reference, location string) string {
	if strings.HasPrefix(location, "/v2/") {
		return fmt.Sprintf("%s://%s%s",
			c.config.Protocol.SchemeFor(image.Registry()), image.Registry(), location)
	}
	return location
}
