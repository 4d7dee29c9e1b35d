package oci

import "testing"

func mustParse(t *testing.T, s string) Reference {
	t.Helper()
	ref, err := ParseReference(s)
	if err != nil {
		t.Fatalf("ParseReference(%q) error: %v", s, err)
	}
	return ref
}

func TestSchemeFor(t *testing.T) {
	tests := []struct {
		name     string
		protocol ClientProtocol
		registry string
		want     string
	}{
		{"default is https", ClientProtocol{}, "webassembly.azurecr.io", "https"},
		{"https constant", ProtocolHTTPS, "webassembly.azurecr.io", "https"},
		{"http constant", ProtocolHTTP, "webassembly.azurecr.io", "http"},
		{"exception hit", ProtocolHTTPSExcept("localhost", "oci.registry.local"), "oci.registry.local", "http"},
		{"exception miss", ProtocolHTTPSExcept("localhost", "oci.registry.local"), "webassembly.azurecr.io", "https"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.protocol.SchemeFor(tt.registry); got != tt.want {
				t.Errorf("SchemeFor(%q) = %q, want %q", tt.registry, got, tt.want)
			}
		})
	}
}

func TestManifestURL(t *testing.T) {
	tests := []struct {
		name  string
		image string
		want  string
	}{
		{
			"tag only",
			"webassembly.azurecr.io/hello-wasm:v1",
			"https://webassembly.azurecr.io/v2/hello-wasm/manifests/v1",
		},
		{
			"no tag defaults to latest",
			"webassembly.azurecr.io/hello-wasm",
			"https://webassembly.azurecr.io/v2/hello-wasm/manifests/latest",
		},
		{
			"digest only",
			"webassembly.azurecr.io/hello-wasm@sha256:51d9b231d5129e3ffc267c9d455c49d789bf3167b611a07ab6e4b3304c96b0e7",
			"https://webassembly.azurecr.io/v2/hello-wasm/manifests/sha256:51d9b231d5129e3ffc267c9d455c49d789bf3167b611a07ab6e4b3304c96b0e7",
		},
		{
			"digest dominates tag",
			"webassembly.azurecr.io/hello-wasm:v1@sha256:51d9b231d5129e3ffc267c9d455c49d789bf3167b611a07ab6e4b3304c96b0e7",
			"https://webassembly.azurecr.io/v2/hello-wasm/manifests/sha256:51d9b231d5129e3ffc267c9d455c49d789bf3167b611a07ab6e4b3304c96b0e7",
		},
	}

	client := New(ClientConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := client.manifestURL(mustParse(t, tt.image)); got != tt.want {
				t.Errorf("manifestURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestManifestURLRespectsProtocol(t *testing.T) {
	client := New(ClientConfig{Protocol: ProtocolHTTP})
	got := client.manifestURL(mustParse(t, "webassembly.azurecr.io/hello:v1"))
	want := "http://webassembly.azurecr.io/v2/hello/manifests/v1"
	if got != want {
		t.Errorf("manifestURL() = %q, want %q", got, want)
	}
}

func TestManifestURLExceptionList(t *testing.T) {
	client := New(ClientConfig{Protocol: ProtocolHTTPSExcept("localhost", "oci.registry.local")})

	got := client.manifestURL(mustParse(t, "oci.registry.local/hello:v1"))
	if want := "http://oci.registry.local/v2/hello/manifests/v1"; got != want {
		t.Errorf("manifestURL() = %q, want %q", got, want)
	}

	got = client.manifestURL(mustParse(t, "webassembly.azurecr.io/hello:v1"))
	if want := "https://webassembly.azurecr.io/v2/hello/manifests/v1"; got != want {
		t.Errorf("manifestURL() = %q, want %q", got, want)
	}
}

func TestBlobURL(t *testing.T) {
	client := New(ClientConfig{})
	image := mustParse(t, "webassembly.azurecr.io/hello-wasm:v1")

	got := client.blobURL(image.Registry(), image.Repository(), "sha256:deadbeef")
	if want := "https://webassembly.azurecr.io/v2/hello-wasm/blobs/sha256:deadbeef"; got != want {
		t.Errorf("blobURL() = %q, want %q", got, want)
	}
}

func TestBlobUploadURL(t *testing.T) {
	client := New(ClientConfig{})
	image := mustParse(t, "webassembly.azurecr.io/hello-wasm:v1")

	got := client.blobUploadURL(image)
	if want := "https://webassembly.azurecr.io/v2/hello-wasm/blobs/uploads/"; got != want {
		t.Errorf("blobUploadURL() = %q, want %q", got, want)
	}
}

func TestLocationToURL(t *testing.T) {
	client := New(ClientConfig{Protocol: ProtocolHTTP})
	image := mustParse(t, "oci.registry.local/hello-wasm:v1")

	tests := []struct {
		location string
		want     string
	}{
		{
			"/v2/hello-wasm/blobs/uploads/abc?state=0",
			"http://oci.registry.local/v2/hello-wasm/blobs/uploads/abc?state=0",
		},
		{
			"https://cdn.example.com/upload/abc",
			"https://cdn.example.com/upload/abc",
		},
	}

	for _, tt := range tests {
		if got := client.locationToURL(image, tt.location); got != tt.want {
			t.Errorf("locationToURL(%q) = %q, want %q", tt.location, got, tt.want)
		}
	}
}
