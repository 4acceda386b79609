package backend

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer token for each request. An empty token
// means the request goes out unauthenticated.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a token fixed at startup.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	return strings.TrimSpace(string(t)), nil
}

// FileToken reads the token from the first line of a file on every call, so
// a login flow elsewhere can rotate it without a restart. A missing file
// yields no token.
type FileToken struct {
	Path string
}

func (f FileToken) Token() (string, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file %s: %w", f.Path, err)
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	if sc.Scan() {
		return strings.TrimSpace(sc.Text()), nil
	}
	return "", nil
}

// ChainTokens returns the first non-empty token from the given sources.
type ChainTokens []TokenSource

func (c ChainTokens) Token() (string, error) {
	for _, ts := range c {
		tok, err := ts.Token()
		if err != nil {
			return "", err
		}
		if tok != "" {
			return tok, nil
		}
	}
	return "", nil
}

// TokenExpired reports whether token is a JWT whose exp claim lies before
// now. The signature is not checked; the backend does that. Opaque tokens and
// JWTs without exp are never considered expired.
func TokenExpired(token string, now time.Time) (bool, time.Time) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false, time.Time{}
	}
	if claims.ExpiresAt == nil {
		return false, time.Time{}
	}
	exp := claims.ExpiresAt.Time
	return now.After(exp), exp
}
