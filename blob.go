package oci

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/git-pkgs/oci/internal/metrics"
)

// pullLayer streams the blob identified by digest to out. The reference
// supplies registry and repository; it is not used to verify that the
// digest belongs to the image (the manifest is the authority for that),
// and the received bytes are not re-hashed against the claimed digest.
func (c *Client) pullLayer(ctx context.Context, image Reference, digest string, out io.Writer) error {
	blobURL := c.blobURL(image.Registry(), image.Repository(), digest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, blobURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.requestHeaders(req, image)

	resp, err := c.do(req, "blob_get")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return unexpectedStatus(resp)
	}

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return fmt.Errorf("streaming blob %s: %w", digest, err)
	}
	metrics.RecordBlobBytes("pull", n)
	return nil
}
