package oci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/git-pkgs/oci/internal/metrics"
)

// RegistryAuth attaches credentials to an outgoing request. It is consumed
// by the auth engine when exchanging for a bearer token.
type RegistryAuth interface {
	// ApplyAuthentication sets credential headers on req, or leaves the
	// request untouched for anonymous access.
	ApplyAuthentication(req *http.Request)
}

// Anonymous sends no credentials.
var Anonymous RegistryAuth = anonymousAuth{}

type anonymousAuth struct{}

func (anonymousAuth) ApplyAuthentication(*http.Request) {}

// BasicAuth sends HTTP Basic credentials during the token exchange.
func BasicAuth(username, password string) RegistryAuth {
	return basicAuth{username: username, password: password}
}

type basicAuth struct {
	username string
	password string
}

func (a basicAuth) ApplyAuthentication(req *http.Request) {
	req.SetBasicAuth(a.username, a.password)
}

// registryToken is a bearer token granted by a registry's token endpoint.
// Registries disagree on the field name: both "token" and "access_token"
// are accepted.
type registryToken struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

func (t registryToken) value() string {
	if t.Token != "" {
		return t.Token
	}
	return t.AccessToken
}

func (t registryToken) bearer() string {
	return "Bearer " + t.value()
}

// challenge is one parsed WWW-Authenticate challenge.
type challenge struct {
	scheme string
	params map[string]string
}

// parseChallenges parses a WWW-Authenticate header value into its
// challenges. The grammar is awkward: commas separate both parameters and
// challenges, and parameter values may be quoted or bare. A new challenge
// is recognized by a scheme token (no '=') at the start of a segment.
func parseChallenges(header string) []challenge {
	var out []challenge
	var cur *challenge

	for _, segment := range splitQuoted(header, ',') {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		// "Bearer realm=..." starts a new challenge; "service=..." continues
		// the current one. A bare scheme with no parameters also counts.
		head, rest, found := strings.Cut(segment, " ")
		if !strings.Contains(head, "=") {
			out = append(out, challenge{scheme: head, params: map[string]string{}})
			cur = &out[len(out)-1]
			if !found {
				continue
			}
			segment = rest
		}
		if cur == nil {
			continue
		}

		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		cur.params[key] = value
	}

	return out
}

// splitQuoted splits s on sep, ignoring separators inside double quotes.
func splitQuoted(s string, sep byte) []string {
	var parts []string
	var quoted bool
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case sep:
			if !quoted {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// bearerChallenge picks the first Bearer challenge out of a parsed header.
func bearerChallenge(challenges []challenge) (challenge, bool) {
	for _, ch := range challenges {
		if strings.EqualFold(ch.scheme, "Bearer") {
			return ch, true
		}
	}
	return challenge{}, false
}

// Authenticate performs the bearer-token handshake for the image's registry
// and stores the granted token for subsequent requests.
//
// Registries that return no WWW-Authenticate header on GET /v2/ permit
// anonymous access: Authenticate succeeds without storing a token. The same
// applies when the header carries no Bearer challenge (an upstream in
// Docker v1 compatibility mode offering only Basic); later requests may
// then fail with 401, which surfaces as an error.
func (c *Client) Authenticate(ctx context.Context, image Reference, auth RegistryAuth, operation RegistryOperation) error {
	c.logger.Debug("authorizing", "image", image.String(), "operation", operation.String())

	// The version endpoint tells us where to go.
	discoveryURL := fmt.Sprintf("%s://%s/v2/",
		c.config.Protocol.SchemeFor(image.Registry()), image.Registry())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.do(req, "auth_discovery")
	if err != nil {
		return err
	}
	header := resp.Header.Get("WWW-Authenticate")
	_ = resp.Body.Close()

	if header == "" {
		metrics.RecordAuth("anonymous")
		return nil
	}

	ch, ok := bearerChallenge(parseChallenges(header))
	if !ok {
		metrics.RecordAuth("no_bearer_challenge")
		return nil
	}

	realm := ch.params["realm"]
	service := ch.params["service"]
	if realm == "" || service == "" {
		return fmt.Errorf("parsing WWW-Authenticate %q: %w", header, ErrMissingChallenge)
	}

	scope := fmt.Sprintf("repository:%s:pull", image.Repository())
	if operation == OperationPush {
		scope = fmt.Sprintf("repository:%s:pull,push", image.Repository())
	}

	tokenURL, err := url.Parse(realm)
	if err != nil {
		return fmt.Errorf("parsing realm %q: %w", realm, err)
	}
	query := tokenURL.Query()
	query.Set("service", service)
	query.Set("scope", scope)
	tokenURL.RawQuery = query.Encode()

	c.logger.Debug("token exchange", "realm", realm, "scope", scope)

	tokenReq, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	tokenReq.Header.Set("User-Agent", c.config.UserAgent)
	auth.ApplyAuthentication(tokenReq)

	tokenResp, err := c.do(tokenReq, "token_exchange")
	if err != nil {
		return err
	}
	defer func() { _ = tokenResp.Body.Close() }()

	if tokenResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(tokenResp.Body, 1024))
		metrics.RecordAuth("denied")
		return &AuthError{Status: tokenResp.StatusCode, Body: string(body)}
	}

	var token registryToken
	if err := json.NewDecoder(tokenResp.Body).Decode(&token); err != nil {
		return fmt.Errorf("decoding registry token: %w", err)
	}

	c.mu.Lock()
	c.tokens[image.Registry()] = token
	c.mu.Unlock()

	metrics.RecordAuth("token")
	c.logger.Debug("authorized", "registry", image.Registry())
	return nil
}

// ensureAuthenticated runs the auth flow when no token is cached for the
// image's registry. Registries that grant access without a token leave
// nothing cached, so the discovery request repeats on each operation
// against them. There is no re-auth on 401; an expired or insufficient
// token surfaces as an error.
func (c *Client) ensureAuthenticated(ctx context.Context, image Reference, auth RegistryAuth, operation RegistryOperation) error {
	c.mu.RLock()
	_, ok := c.tokens[image.Registry()]
	c.mu.RUnlock()
	if ok {
		return nil
	}
	return c.Authenticate(ctx, image, auth, operation)
}
