package oci

import (
	"fmt"

	"github.com/distribution/reference"
)

// Reference names an image inside a registry: registry/repo[:tag][@digest].
//
// References are immutable once parsed. When both a tag and a digest are
// present, the digest wins during URL construction.
type Reference struct {
	registry   string
	repository string
	tag        string
	digest     string
}

// ParseReference parses a string of the form
// host[:port]/path[:tag][@sha256:hex] into a Reference.
//
// Unlike Docker's CLI parsing, no normalization is applied: the registry
// host must be spelled out, and no default repository prefix is inserted.
func ParseReference(s string) (Reference, error) {
	ref, err := reference.Parse(s)
	if err != nil {
		return Reference{}, fmt.Errorf("parsing reference %q: %w", s, err)
	}

	named, ok := ref.(reference.Named)
	if !ok {
		return Reference{}, fmt.Errorf("parsing reference %q: missing repository name", s)
	}

	out := Reference{
		registry:   reference.Domain(named),
		repository: reference.Path(named),
	}
	if out.registry == "" {
		return Reference{}, fmt.Errorf("parsing reference %q: missing registry host", s)
	}
	if out.repository == "" {
		return Reference{}, fmt.Errorf("parsing reference %q: missing repository path", s)
	}

	if tagged, ok := ref.(reference.Tagged); ok {
		out.tag = tagged.Tag()
	}
	if digested, ok := ref.(reference.Digested); ok {
		out.digest = digested.Digest().String()
	}

	return out, nil
}

// Registry returns the registry host (host[:port]).
func (r Reference) Registry() string { return r.registry }

// Repository returns the repository path within the registry.
func (r Reference) Repository() string { return r.repository }

// Tag returns the tag, or "" when none was given.
func (r Reference) Tag() string { return r.tag }

// Digest returns the sha256:... digest, or "" when none was given.
func (r Reference) Digest() string { return r.digest }

// String reassembles the reference in its canonical textual form.
func (r Reference) String() string {
	s := r.registry + "/" + r.repository
	if r.tag != "" {
		s += ":" + r.tag
	}
	if r.digest != "" {
		s += "@" + r.digest
	}
	return s
}
