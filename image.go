package oci

import (
	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// ImageLayer is the raw content and media type of a single image layer.
type ImageLayer struct {
	Data      []byte
	MediaType string
}

// NewImageLayer constructs an ImageLayer from data and a media type.
func NewImageLayer(data []byte, mediaType string) ImageLayer {
	return ImageLayer{Data: data, MediaType: mediaType}
}

// OCIv1Layer constructs a layer with the OCI v1 tar media type.
func OCIv1Layer(data []byte) ImageLayer {
	return NewImageLayer(data, v1.MediaTypeImageLayer)
}

// OCIv1GzipLayer constructs a layer with the OCI v1 tar+gzip media type.
func OCIv1GzipLayer(data []byte) ImageLayer {
	return NewImageLayer(data, v1.MediaTypeImageLayerGzip)
}

// SHA256Digest returns the sha256:... digest of the layer data.
func (l ImageLayer) SHA256Digest() string {
	return sha256Digest(l.Data)
}

// ImageData holds the pulled or to-be-pushed content of an image.
type ImageData struct {
	// Layers in manifest order.
	Layers []ImageLayer

	// ManifestDigest is the digest reported by the registry, empty when
	// unknown (for example, an image assembled locally for pushing).
	ManifestDigest string
}

// Digest returns the stored manifest digest, or, when none is stored, the
// digest computed over the concatenated layer bytes. The computed value is
// not written back.
func (d *ImageData) Digest() string {
	if d.ManifestDigest != "" {
		return d.ManifestDigest
	}
	return d.SHA256Digest()
}

// SHA256Digest computes the digest over all layer bytes in manifest order.
func (d *ImageData) SHA256Digest() string {
	var all []byte
	for _, layer := range d.Layers {
		all = append(all, layer.Data...)
	}
	return sha256Digest(all)
}

// sha256Digest returns "sha256:" + lowercase hex of the SHA-256 of b, the
// canonical form used on URLs and in descriptors.
func sha256Digest(b []byte) string {
	return digest.FromBytes(b).String()
}
