package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type serviceAccountJSON struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// GCSStore keeps artifacts in a Cloud Storage bucket and hands out V4 signed GET URLs.
type GCSStore struct {
	client     *gcs.Client
	bucket     string
	accessID   string
	privateKey []byte
	now        func() time.Time
}

// NewGCSStore connects with credentialsJSON when set, otherwise with
// application default credentials.
func NewGCSStore(ctx context.Context, bucket string, credentialsJSON string) (*GCSStore, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}
	var (
		client *gcs.Client
		err    error
		store  = &GCSStore{bucket: bucket, now: time.Now}
	)
	credentialsJSON = strings.TrimSpace(credentialsJSON)
	if credentialsJSON != "" {
		var key serviceAccountJSON
		if err := json.Unmarshal([]byte(credentialsJSON), &key); err != nil {
			return nil, fmt.Errorf("invalid GCS_CREDENTIALS_JSON: %w", err)
		}
		if key.ClientEmail == "" || key.PrivateKey == "" {
			return nil, errors.New("GCS_CREDENTIALS_JSON missing client_email or private_key")
		}
		store.accessID = key.ClientEmail
		store.privateKey = []byte(strings.ReplaceAll(key.PrivateKey, "\\n", "\n"))
		client, err = gcs.NewClient(ctx, option.WithCredentialsJSON([]byte(credentialsJSON)))
	} else {
		client, err = gcs.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	store.client = client
	return store, nil
}

func (s *GCSStore) Provider() string {
	return ProviderGCS
}

func (s *GCSStore) Put(ctx context.Context, objectPath string, data []byte, contentType string) error {
	objectPath, err := cleanObjectPath(objectPath)
	if err != nil {
		return err
	}
	w := s.client.Bucket(s.bucket).Object(objectPath).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{"producer": "grantdesk"}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("write gcs object %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("finalize gcs object %s: %w", objectPath, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, objectPath string) ([]byte, error) {
	objectPath, err := cleanObjectPath(objectPath)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("open gcs object %s: %w", objectPath, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gcs object %s: %w", objectPath, err)
	}
	return data, nil
}

func (s *GCSStore) SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, time.Time, error) {
	objectPath, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", time.Time{}, err
	}
	expires := s.now().Add(ttl)
	opts := &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expires,
	}
	if s.accessID != "" {
		opts.GoogleAccessID = s.accessID
		opts.PrivateKey = s.privateKey
	}
	url, err := s.client.Bucket(s.bucket).SignedURL(objectPath, opts)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign gcs url: %w", err)
	}
	return url, expires.UTC(), nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
