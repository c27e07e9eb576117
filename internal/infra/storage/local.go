package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const artifactAudience = "grantdesk-artifact"

// LocalStore keeps artifacts on the local filesystem. Signed URLs point at
// the service's own download route and carry an HS256 token with an expiry.
type LocalStore struct {
	root    string
	secret  []byte
	baseURL string
	now     func() time.Time
}

func NewLocalStore(root string, signingSecret string, baseURL string) (*LocalStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("LOCAL_STORAGE_DIR is required")
	}
	if len(signingSecret) < 16 {
		return nil, errors.New("LOCAL_URL_SIGNING_SECRET must be at least 16 bytes")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{
		root:    root,
		secret:  []byte(signingSecret),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}, nil
}

func (s *LocalStore) Provider() string {
	return ProviderLocal
}

func (s *LocalStore) Put(ctx context.Context, objectPath string, data []byte, contentType string) error {
	objectPath, err := cleanObjectPath(objectPath)
	if err != nil {
		return err
	}
	full := s.fullPath(objectPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if _, err := os.Stat(full); err == nil {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp artifact: %w", err)
	}
	// Link fails if another writer got there first; the object stays as it was.
	if err := os.Link(tmp.Name(), full); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

func (s *LocalStore) Get(ctx context.Context, objectPath string) ([]byte, error) {
	objectPath, err := cleanObjectPath(objectPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.fullPath(objectPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

func (s *LocalStore) SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, time.Time, error) {
	objectPath, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now().UTC()
	expires := now.Add(ttl).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   objectPath,
		Audience:  jwt.ClaimStrings{artifactAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign artifact token: %w", err)
	}
	return s.baseURL + "/v1/artifacts/" + url.PathEscape(signed), expires, nil
}

// ResolveToken checks a download token and returns the object path it grants.
func (s *LocalStore) ResolveToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithAudience(artifactAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	objectPath, err := cleanObjectPath(claims.Subject)
	if err != nil {
		return "", ErrInvalidToken
	}
	return objectPath, nil
}

func (s *LocalStore) fullPath(objectPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(objectPath))
}
