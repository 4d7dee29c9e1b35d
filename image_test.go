package oci

import (
	"strings"
	"testing"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

func TestSHA256Digest(t *testing.T) {
	const want = "sha256:fdbd95aafcbc814a2600fcc54c1e1706f52d2f9bf45cf53254f25bcd7599ce99"

	if got := sha256Digest([]byte("hellobytes")); got != want {
		t.Errorf("sha256Digest() = %q, want %q", got, want)
	}

	// Digesting concatenated layers must equal digesting the whole.
	combined := &ImageData{Layers: []ImageLayer{
		NewImageLayer([]byte("hello"), WasmLayerMediaType),
		NewImageLayer([]byte("bytes"), WasmLayerMediaType),
	}}
	if got := combined.SHA256Digest(); got != want {
		t.Errorf("ImageData.SHA256Digest() = %q, want %q", got, want)
	}
}

func TestSHA256DigestForm(t *testing.T) {
	got := sha256Digest([]byte("anything"))
	if !strings.HasPrefix(got, "sha256:") {
		t.Fatalf("digest %q missing sha256: prefix", got)
	}
	hex := strings.TrimPrefix(got, "sha256:")
	if len(hex) != 64 {
		t.Errorf("digest hex length = %d, want 64", len(hex))
	}
	if hex != strings.ToLower(hex) {
		t.Errorf("digest hex %q is not lowercase", hex)
	}
}

func TestImageDataDigest(t *testing.T) {
	img := &ImageData{Layers: []ImageLayer{NewImageLayer([]byte("hellobytes"), WasmLayerMediaType)}}

	computed := img.Digest()
	if computed != "sha256:fdbd95aafcbc814a2600fcc54c1e1706f52d2f9bf45cf53254f25bcd7599ce99" {
		t.Errorf("computed digest = %q", computed)
	}
	if img.ManifestDigest != "" {
		t.Errorf("computed digest was written back: %q", img.ManifestDigest)
	}

	img.ManifestDigest = "sha256:0000000000000000000000000000000000000000000000000000000000000000"
	if got := img.Digest(); got != img.ManifestDigest {
		t.Errorf("Digest() = %q, want stored %q", got, img.ManifestDigest)
	}
}

func TestImageLayerConstructors(t *testing.T) {
	data := []byte("layerdata")

	if layer := OCIv1Layer(data); layer.MediaType != v1.MediaTypeImageLayer {
		t.Errorf("OCIv1Layer media type = %q", layer.MediaType)
	}
	if layer := OCIv1GzipLayer(data); layer.MediaType != v1.MediaTypeImageLayerGzip {
		t.Errorf("OCIv1GzipLayer media type = %q", layer.MediaType)
	}
	if got := NewImageLayer(data, WasmLayerMediaType).SHA256Digest(); got != sha256Digest(data) {
		t.Errorf("layer digest = %q, want %q", got, sha256Digest(data))
	}
}
