package session

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

var ErrNoToken = errors.New("no access token; login or refresh first")

var _ oauth2.TokenSource = (*Credentials)(nil)

// Credentials holds the current bearer and refresh tokens.
type Credentials struct {
	mu    sync.RWMutex
	token *oauth2.Token
}

func NewCredentials() *Credentials {
	return &Credentials{}
}

// Set replaces the tokens. An empty refresh token keeps the previous one.
func (c *Credentials) Set(accessToken, refreshToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if refreshToken == "" && c.token != nil {
		refreshToken = c.token.RefreshToken
	}
	c.token = &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Expiry:       tokenExpiry(accessToken),
	}
	if accessToken != "" {
		tokenValid.Set(1)
	}
}

// SetRefreshToken seeds a refresh token without an access token.
func (c *Credentials) SetRefreshToken(refreshToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = &oauth2.Token{RefreshToken: refreshToken}
}

// Token implements oauth2.TokenSource.
func (c *Credentials) Token() (*oauth2.Token, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == nil || c.token.AccessToken == "" {
		return nil, ErrNoToken
	}
	if !c.token.Valid() {
		tokenValid.Set(0)
	}
	out := *c.token
	return &out, nil
}

// AccessToken returns the current bearer token, possibly empty.
func (c *Credentials) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil {
		return ""
	}
	return c.token.AccessToken
}

func (c *Credentials) RefreshToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil {
		return ""
	}
	return c.token.RefreshToken
}

// tokenExpiry reads the exp claim when the token is a JWT. The signature is
// not checked: the API is the only party that validates it.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
