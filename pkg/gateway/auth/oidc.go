package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/synaptica-ai/reporting/pkg/common/logger"
	"github.com/synaptica-ai/reporting/pkg/gateway/httpclient"
)

var (
	ErrMissingToken = errors.New("bearer token is missing")
	ErrInvalidToken = errors.New("bearer token rejected by identity provider")
)

// Claims are the userinfo claims of an authenticated caller.
type Claims map[string]interface{}

func (c Claims) Subject() string {
	sub, _ := c["sub"].(string)
	return sub
}

// OIDCAuthenticator validates access tokens by presenting them to the
// issuer's userinfo endpoint.
type OIDCAuthenticator struct {
	config      *oauth2.Config
	userInfoURL string
	client      *http.Client
	attempts    int
}

type Option func(*OIDCAuthenticator)

func WithHTTPClient(client *http.Client) Option {
	return func(a *OIDCAuthenticator) {
		if client != nil {
			a.client = client
		}
	}
}

func WithUserInfoURL(url string) Option {
	return func(a *OIDCAuthenticator) {
		if url != "" {
			a.userInfoURL = url
		}
	}
}

func WithAttempts(n int) Option {
	return func(a *OIDCAuthenticator) {
		if n > 0 {
			a.attempts = n
		}
	}
}

func NewOIDCAuthenticator(issuer, clientID, clientSecret string, opts ...Option) (*OIDCAuthenticator, error) {
	if issuer == "" || clientID == "" {
		return nil, fmt.Errorf("OIDC configuration incomplete")
	}
	issuer = strings.TrimRight(issuer, "/")

	a := &OIDCAuthenticator{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  issuer + "/authorize",
				TokenURL: issuer + "/token",
			},
			Scopes: []string{"openid", "profile", "email"},
		},
		userInfoURL: issuer + "/userinfo",
		client:      httpclient.New(10 * time.Second),
		attempts:    3,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *OIDCAuthenticator) ValidateToken(ctx context.Context, token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	client := a.config.Client(ctx, &oauth2.Token{AccessToken: token, TokenType: "Bearer"})

	var claims Claims
	err := httpclient.Retry(ctx, a.attempts, 100*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.userInfoURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return ErrInvalidToken
		case resp.StatusCode != http.StatusOK:
			return &httpclient.StatusError{URL: a.userInfoURL, Code: resp.StatusCode}
		}
		claims = Claims{}
		return json.NewDecoder(resp.Body).Decode(&claims)
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidToken) {
			logger.Log.WithError(err).Warn("userinfo lookup failed")
		}
		return nil, err
	}
	if claims.Subject() == "" {
		return nil, fmt.Errorf("%w: userinfo has no subject", ErrInvalidToken)
	}
	return claims, nil
}
