package oci

import "fmt"

type protocolMode int

const (
	modeHTTPS protocolMode = iota
	modeHTTP
	modeHTTPSExcept
)

// ClientProtocol selects the URL scheme used per registry.
//
// The zero value is ProtocolHTTPS: everything over TLS. ProtocolHTTP forces
// plain HTTP for every registry. ProtocolHTTPSExcept uses HTTPS for all
// registries except the listed hosts, which is the usual shape for talking
// to a local development registry.
type ClientProtocol struct {
	mode       protocolMode
	exceptions []string
}

// ProtocolHTTPS connects to every registry over HTTPS. This is the default.
var ProtocolHTTPS = ClientProtocol{mode: modeHTTPS}

// ProtocolHTTP connects to every registry over plain HTTP.
var ProtocolHTTP = ClientProtocol{mode: modeHTTP}

// ProtocolHTTPSExcept connects over HTTPS except to the given registry
// hosts, which are contacted over plain HTTP.
func ProtocolHTTPSExcept(registries ...string) ClientProtocol {
	return ClientProtocol{mode: modeHTTPSExcept, exceptions: registries}
}

// SchemeFor returns "http" or "https" for the given registry host.
func (p ClientProtocol) SchemeFor(registry string) string {
	switch p.mode {
	case modeHTTP:
		return "http"
	case modeHTTPSExcept:
		for _, host := range p.exceptions {
			if host == registry {
				return "http"
			}
		}
		return "https"
	default:
		return "https"
	}
}

// manifestURL builds the /v2/{repo}/manifests/{reference} URL. The digest
// dominates the tag when both are present; with neither, "latest" is used.
func (c *Client) manifestURL(image Reference) string {
	ref := image.Digest()
	if ref == "" {
		ref = image.Tag()
	}
	if ref == "" {
		ref = "latest"
	}
	return fmt.Sprintf("%s://%s/v2/%s/manifests/%s",
		c.config.Protocol.SchemeFor(image.Registry()), image.Registry(), image.Repository(), ref)
}

// blobURL builds the /v2/{repo}/blobs/{digest} URL.
func (c *Client) blobURL(registry, repository, digest string) string {
	return fmt.Sprintf("%s://%s/v2/%s/blobs/%s",
		c.config.Protocol.SchemeFor(registry), registry, repository, digest)
}

// blobUploadURL builds the /v2/{repo}/blobs/uploads/ URL. The trailing
// slash is part of the endpoint.
func (c *Client) blobUploadURL(image Reference) string {
	return c.blobURL(image.Registry(), image.Repository(), "uploads/")
}
