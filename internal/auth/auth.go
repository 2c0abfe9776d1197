// Package auth validates caller identity per endpoint-declared scheme
// and enriches the request context for later pipeline stages.
package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/apigw/gateway/internal/model"
)

// Result is the outcome of an authentication attempt. Reason is set on
// failure and is safe to return to the caller.
type Result struct {
	OK       bool
	Reason   string
	Identity string            // caller identity, when the scheme yields one
	Context  map[string]string // merged into the request's auth context
}

// Authenticator validates one scheme.
type Authenticator interface {
	Authenticate(rc *model.RequestContext) Result
}

// Handler dispatches to the authenticator registered for the
// endpoint's scheme. The table is built once at startup.
type Handler struct {
	schemes map[model.AuthScheme]Authenticator
}

// NewHandler builds the dispatch table. apiKeys maps key material to
// caller identity; jwtSecret is the HMAC secret for bearer tokens.
func NewHandler(apiKeys map[string]string, jwtSecret []byte) *Handler {
	return &Handler{
		schemes: map[model.AuthScheme]Authenticator{
			model.AuthNone:   allowAll{},
			model.AuthAPIKey: &apiKeyAuth{keys: apiKeys},
			model.AuthJWT:    &jwtAuth{secret: jwtSecret},
			model.AuthOAuth2: unsupported{scheme: model.AuthOAuth2},
			model.AuthBasic:  unsupported{scheme: model.AuthBasic},
		},
	}
}

// Authenticate runs the endpoint's scheme against the request. On
// success the context's auth map is populated.
func (h *Handler) Authenticate(rc *model.RequestContext) Result {
	a, ok := h.schemes[rc.Endpoint.Auth]
	if !ok {
		return Result{Reason: "unknown auth scheme " + string(rc.Endpoint.Auth)}
	}
	res := a.Authenticate(rc)
	if res.OK {
		if rc.Auth == nil {
			rc.Auth = make(map[string]string)
		}
		for k, v := range res.Context {
			rc.Auth[k] = v
		}
		if res.Identity != "" {
			rc.Auth["identity"] = res.Identity
		}
	}
	return res
}

type allowAll struct{}

func (allowAll) Authenticate(*model.RequestContext) Result {
	return Result{OK: true}
}

type unsupported struct{ scheme model.AuthScheme }

func (u unsupported) Authenticate(*model.RequestContext) Result {
	return Result{Reason: "auth scheme " + string(u.scheme) + " not supported"}
}

// apiKeyAuth accepts a key from the X-API-Key header, a bearer-style
// Authorization header, or the api_key query parameter, first match
// wins in that order.
type apiKeyAuth struct {
	keys map[string]string
}

func (a *apiKeyAuth) Authenticate(rc *model.RequestContext) Result {
	key := rc.Request.Header.Get("X-API-Key")
	if key == "" {
		if v := rc.Request.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
			key = strings.TrimPrefix(v, "Bearer ")
		}
	}
	if key == "" {
		key = rc.Request.Query.Get("api_key")
	}
	if key == "" {
		return Result{Reason: "missing API key"}
	}
	identity, ok := a.keys[key]
	if !ok {
		return Result{Reason: "invalid API key"}
	}
	return Result{
		OK:       true,
		Identity: identity,
		Context:  map[string]string{"scheme": "api_key", "credential": key},
	}
}

// jwtAuth verifies an HMAC-signed bearer token. Expired and malformed
// tokens yield distinguishable reasons.
type jwtAuth struct {
	secret []byte
}

func (a *jwtAuth) Authenticate(rc *model.RequestContext) Result {
	raw := rc.Request.Header.Get("Authorization")
	if !strings.HasPrefix(raw, "Bearer ") {
		return Result{Reason: "missing bearer token"}
	}
	raw = strings.TrimPrefix(raw, "Bearer ")

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Result{Reason: "token expired"}
	case err != nil:
		return Result{Reason: "malformed token"}
	case !token.Valid:
		return Result{Reason: "invalid token"}
	}

	res := Result{
		OK:      true,
		Context: map[string]string{"scheme": "jwt", "credential": raw},
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		if sub, _ := claims["sub"].(string); sub != "" {
			res.Identity = sub
		}
	}
	return res
}
