package oci

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/git-pkgs/oci/internal/registrytest"
)

func TestPushLayerCursor(t *testing.T) {
	reg := registrytest.New()
	host := reg.Start(t)

	client := New(ClientConfig{Protocol: ProtocolHTTP})
	image := mustParse(t, host+"/hello-wasm:v1")
	ctx := context.Background()

	location, err := client.beginPushSession(ctx, image)
	if err != nil {
		t.Fatalf("beginPushSession: %v", err)
	}
	if !strings.HasPrefix(location, "http://"+host+"/v2/hello-wasm/blobs/uploads/") {
		t.Fatalf("session location = %q, want an absolutized upload URL", location)
	}

	chunks := [][]byte{
		[]byte("iamawebassemblymodule"),    // 21 bytes
		[]byte("anotherwebassemblymodule"), // 24 bytes
		[]byte("lastlayerwasm"),            // 13 bytes
	}
	wantStarts := []int64{0, 21, 45}

	var startByte int64
	var all []byte
	for i, chunk := range chunks {
		if startByte != wantStarts[i] {
			t.Errorf("chunk %d start byte = %d, want %d", i, startByte, wantStarts[i])
		}
		location, startByte, err = client.pushLayer(ctx, location, image, chunk, startByte)
		if err != nil {
			t.Fatalf("pushLayer %d: %v", i, err)
		}
		all = append(all, chunk...)
	}
	if startByte != 58 {
		t.Errorf("final cursor = %d, want 58", startByte)
	}

	dig := sha256Digest(all)
	blobLocation, err := client.endPushSession(ctx, location, image, dig)
	if err != nil {
		t.Fatalf("endPushSession: %v", err)
	}
	if want := "http://" + host + "/v2/hello-wasm/blobs/" + dig; blobLocation != want {
		t.Errorf("blob location = %q, want %q", blobLocation, want)
	}

	stored, ok := reg.Blob(dig)
	if !ok {
		t.Fatal("finalized blob not stored")
	}
	if !bytes.Equal(stored, all) {
		t.Error("stored blob does not match pushed bytes")
	}
}

func TestPushLayerRejectsEmptyChunk(t *testing.T) {
	client := New(ClientConfig{Protocol: ProtocolHTTP})
	image := mustParse(t, "oci.registry.local/hello-wasm:v1")

	_, _, err := client.pushLayer(context.Background(), "http://oci.registry.local/v2/x", image, nil, 0)
	if !errors.Is(err, ErrEmptyLayer) {
		t.Errorf("pushLayer with empty chunk = %v, want ErrEmptyLayer", err)
	}
}

func TestEndPushSessionDigestMismatch(t *testing.T) {
	reg := registrytest.New()
	host := reg.Start(t)

	client := New(ClientConfig{Protocol: ProtocolHTTP})
	image := mustParse(t, host+"/hello-wasm:v1")
	ctx := context.Background()

	location, err := client.beginPushSession(ctx, image)
	if err != nil {
		t.Fatalf("beginPushSession: %v", err)
	}
	location, _, err = client.pushLayer(ctx, location, image, []byte("somebytes"), 0)
	if err != nil {
		t.Fatalf("pushLayer: %v", err)
	}

	_, err = client.endPushSession(ctx, location, image, sha256Digest([]byte("otherbytes")))
	if err == nil {
		t.Fatal("endPushSession with wrong digest succeeded")
	}
	var statusErr *UnexpectedStatusError
	if !errors.As(err, &statusErr) {
		t.Errorf("error = %v, want *UnexpectedStatusError", err)
	}
}

func TestPushRoundtrip(t *testing.T) {
	reg := registrytest.New(registrytest.WithTokenAuth())
	host := reg.Start(t)

	client := New(ClientConfig{Protocol: ProtocolHTTP})
	image := mustParse(t, host+"/hello-wasm:v1")

	layerData := []byte("iamawebassemblymodule")
	configData := []byte(`{}`)
	img := &ImageData{Layers: []ImageLayer{NewImageLayer(layerData, WasmLayerMediaType)}}

	imageURL, err := client.Push(context.Background(), image, img, configData, WasmConfigMediaType, Anonymous, nil)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if want := "http://" + host + "/v2/hello-wasm/blobs/" + sha256Digest(layerData); imageURL != want {
		t.Errorf("image URL = %q, want %q", imageURL, want)
	}
	if got := reg.LastScope(); got != "repository:hello-wasm:pull,push" {
		t.Errorf("scope = %q, want push scope", got)
	}

	if _, ok := reg.Manifest("hello-wasm", "v1"); !ok {
		t.Fatal("manifest not stored under the tag")
	}
	if _, ok := reg.Blob(sha256Digest(configData)); !ok {
		t.Fatal("config blob not stored")
	}

	// The pushed image must pull back identically.
	pulled, err := client.Pull(context.Background(), image, Anonymous, []string{WasmLayerMediaType})
	if err != nil {
		t.Fatalf("Pull of pushed image: %v", err)
	}
	if len(pulled.Layers) != 1 {
		t.Fatalf("pulled layers = %d, want 1", len(pulled.Layers))
	}
	if !bytes.Equal(pulled.Layers[0].Data, layerData) {
		t.Error("pulled layer differs from pushed layer")
	}
}

func TestPushWithSuppliedManifest(t *testing.T) {
	reg := registrytest.New()
	host := reg.Start(t)

	client := New(ClientConfig{Protocol: ProtocolHTTP})
	image := mustParse(t, host+"/hello-wasm:v2")

	layerData := []byte("iamawebassemblymodule")
	configData := []byte(`{"custom":true}`)
	img := &ImageData{Layers: []ImageLayer{NewImageLayer(layerData, WasmLayerMediaType)}}
	manifest := generateManifest(img, configData, WasmConfigMediaType)
	manifest.Annotations = map[string]string{"org.example.note": "supplied"}

	if _, err := client.Push(context.Background(), image, img, configData, WasmConfigMediaType, Anonymous, &manifest); err != nil {
		t.Fatalf("Push: %v", err)
	}

	body, ok := reg.Manifest("hello-wasm", "v2")
	if !ok {
		t.Fatal("manifest not stored")
	}
	if !strings.Contains(string(body), "org.example.note") {
		t.Error("stored manifest lost the supplied annotations")
	}
}
