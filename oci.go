// Package oci implements a client for the OCI Distribution Specification.
//
// The client pulls and pushes container image artifacts (manifests, configs,
// and layer blobs) from and to conformant registries such as Docker Hub,
// Azure Container Registry, Google Container Registry, and self-hosted
// registries.
//
// Most registries require at least a bearer-token handshake before serving
// content. The client negotiates this automatically: the first authenticated
// operation against a registry discovers the token endpoint via the
// WWW-Authenticate challenge on GET /v2/, exchanges credentials for a token,
// and caches it per registry hostname. Registries that allow anonymous
// access work without any credentials.
//
// Typical pull:
//
//	ref, err := oci.ParseReference("webassembly.azurecr.io/hello-wasm:v1")
//	if err != nil {
//		return err
//	}
//	client := oci.New(oci.ClientConfig{})
//	img, err := client.Pull(ctx, ref, oci.Anonymous, []string{oci.WasmLayerMediaType})
//
// Typical push:
//
//	url, err := client.Push(ctx, ref, img, configBytes, oci.WasmConfigMediaType, auth, nil)
//
// The client never retries internally; callers own backoff and retry policy.
package oci

// Docker manifest media types advertised in the Accept header alongside the
// OCI image manifest type. Manifest lists are accepted on the wire but not
// interpreted by this client.
const (
	DockerManifestMediaType     = "application/vnd.docker.distribution.manifest.v2+json"
	DockerManifestListMediaType = "application/vnd.docker.distribution.manifest.list.v2+json"
)

// Media types for WebAssembly module artifacts.
const (
	WasmLayerMediaType  = "application/vnd.wasm.content.layer.v1+wasm"
	WasmConfigMediaType = "application/vnd.wasm.config.v1+json"
)

const octetStreamMediaType = "application/octet-stream"

// RegistryOperation selects the scope requested during authentication.
type RegistryOperation int

const (
	// OperationPull requests repository:{repo}:pull scope.
	OperationPull RegistryOperation = iota
	// OperationPush requests repository:{repo}:pull,push scope.
	OperationPush
)

func (op RegistryOperation) String() string {
	switch op {
	case OperationPush:
		return "push"
	default:
		return "pull"
	}
}
