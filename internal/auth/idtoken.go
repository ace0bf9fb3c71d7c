package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/velra-app/velra/internal/clock"
	"github.com/velra-app/velra/internal/config"
	"go.uber.org/zap"
)

const (
	ProviderGoogle = "google"
	ProviderApple  = "apple"

	jwksRefetchMin = time.Minute
)

var (
	ErrIDTokenInvalid     = errors.New("id_token_invalid")
	ErrProviderNotWiredUp = errors.New("identity_provider_not_configured")
)

// IdentityClaims is the verified identity extracted from a provider
// ID token.
type IdentityClaims struct {
	Provider string
	Subject  string
	Email    string
}

type providerConfig struct {
	issuers  []string
	jwksURL  string
	audience string
}

// IDTokenVerifier checks Google and Apple sign-in ID tokens against
// the provider's published JWKS.
type IDTokenVerifier struct {
	http      *http.Client
	log       *zap.Logger
	clk       clock.Clock
	providers map[string]providerConfig

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetched map[string]time.Time
}

func NewIDTokenVerifier(cfg config.Config, clk clock.Clock, log *zap.Logger) *IDTokenVerifier {
	return &IDTokenVerifier{
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log.Named("auth.idtoken"),
		clk:  clk,
		providers: map[string]providerConfig{
			ProviderGoogle: {
				issuers:  []string{"https://accounts.google.com", "accounts.google.com"},
				jwksURL:  "https://www.googleapis.com/oauth2/v3/certs",
				audience: cfg.GoogleClientID,
			},
			ProviderApple: {
				issuers:  []string{"https://appleid.apple.com"},
				jwksURL:  "https://appleid.apple.com/auth/keys",
				audience: cfg.AppleClientID,
			},
		},
		keys:    make(map[string]*rsa.PublicKey),
		fetched: make(map[string]time.Time),
	}
}

// Verify parses and validates a provider ID token and returns the
// identity it asserts.
func (v *IDTokenVerifier) Verify(ctx context.Context, provider, rawToken string) (*IdentityClaims, error) {
	pc, ok := v.providers[provider]
	if !ok || pc.audience == "" {
		return nil, ErrProviderNotWiredUp
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return v.keyFor(ctx, pc, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(pc.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clk.Now),
	)
	if err != nil || !token.Valid {
		v.log.Debug("id token rejected", zap.String("provider", provider), zap.Error(err))
		return nil, ErrIDTokenInvalid
	}

	iss, _ := claims["iss"].(string)
	if !contains(pc.issuers, iss) {
		return nil, ErrIDTokenInvalid
	}

	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	if sub == "" {
		return nil, ErrIDTokenInvalid
	}
	return &IdentityClaims{Provider: provider, Subject: sub, Email: email}, nil
}

// overrideJWKSURL redirects a provider's key endpoint, used by tests.
func (v *IDTokenVerifier) overrideJWKSURL(provider, url string) {
	pc := v.providers[provider]
	pc.jwksURL = url
	v.providers[provider] = pc
}

func (v *IDTokenVerifier) keyFor(ctx context.Context, pc providerConfig, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	key, ok := v.keys[kid]
	v.mu.Unlock()
	if ok {
		return key, nil
	}

	if err := v.refetch(ctx, pc); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	key, ok = v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

func (v *IDTokenVerifier) refetch(ctx context.Context, pc providerConfig) error {
	v.mu.Lock()
	if last, ok := v.fetched[pc.jwksURL]; ok && v.clk.Now().Sub(last) < jwksRefetchMin {
		v.mu.Unlock()
		return nil
	}
	v.fetched[pc.jwksURL] = v.clk.Now()
	v.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pc.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := jwkToRSA(k.N, k.E)
		if err != nil {
			v.log.Warn("skipping malformed jwk", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		v.keys[k.Kid] = pub
	}
	return nil
}

func jwkToRSA(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(new(big.Int).SetBytes(eb).Int64()),
	}, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
