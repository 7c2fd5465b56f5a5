package store

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/tidwall/gjson"

	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/provider"
	"github.com/relohq/relo/internal/release"
)

// Compile-time interface check.
var _ provider.Store = (*AppStoreClient)(nil)

// defaultAppStoreURL is the App Store Connect API root.
const defaultAppStoreURL = "https://api.appstoreconnect.apple.com"

// AppStoreOptions configures the App Store Connect client.
type AppStoreOptions struct {
	// BaseURL overrides the API root, mainly for tests.
	BaseURL string
	// KeyID and IssuerID identify the App Store Connect API key.
	KeyID    string
	IssuerID string
	// PrivateKeyFile is the .p8 private key downloaded with the key.
	PrivateKeyFile string

	Logger *slog.Logger
}

// AppStoreClient talks to the App Store Connect API. iOS binaries reach
// TestFlight out of band (the CI job uploads them), so UploadBuild
// resolves and confirms the processed TestFlight build rather than
// pushing bytes.
type AppStoreClient struct {
	baseURL    string
	keyID      string
	issuerID   string
	privateKey *ecdsa.PrivateKey
	httpClient *http.Client
}

// NewAppStore creates an App Store Connect client from an API key.
func NewAppStore(opts AppStoreOptions) (*AppStoreClient, error) {
	if opts.KeyID == "" {
		return nil, errors.ErrConfigMissing("app_store.key_id")
	}
	if opts.IssuerID == "" {
		return nil, errors.ErrConfigMissing("app_store.issuer_id")
	}
	if opts.PrivateKeyFile == "" {
		return nil, errors.ErrConfigMissing("app_store.private_key_file")
	}

	pemBytes, err := os.ReadFile(opts.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	baseURL := defaultAppStoreURL
	if opts.BaseURL != "" {
		baseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}
	return &AppStoreClient{
		baseURL:    baseURL,
		keyID:      opts.KeyID,
		issuerID:   opts.IssuerID,
		privateKey: key,
		httpClient: provider.NewHTTPClient(opts.Logger),
	}, nil
}

// Target returns the distribution target this client serves.
func (c *AppStoreClient) Target() release.Target { return release.TargetAppStore }

// VerifyCredentials lists apps with the signed token.
func (c *AppStoreClient) VerifyCredentials(ctx context.Context) error {
	if _, err := c.get(ctx, "/v1/apps?limit=1"); err != nil {
		return errors.ErrProviderTerminal("app_store", "verify credentials", err)
	}
	return nil
}

// UploadBuild confirms the TestFlight build for the version exists and
// finished processing. The CI workflow uploaded the binary; Apple may
// still be processing it, in which case the task fails and can be
// retried once processing settles.
func (c *AppStoreClient) UploadBuild(ctx context.Context, req provider.StoreUploadRequest) (*provider.StoreUpload, error) {
	query := url.Values{}
	query.Set("filter[app]", req.AppID)
	query.Set("filter[preReleaseVersion.version]", req.Version)
	query.Set("sort", "-uploadedDate")
	query.Set("limit", "1")

	body, err := c.get(ctx, "/v1/builds?"+query.Encode())
	if err != nil {
		return nil, errors.ErrProviderTerminal("app_store", "list builds for "+req.Version, err)
	}

	build := gjson.GetBytes(body, "data.0")
	if !build.Exists() {
		return nil, errors.ErrProviderTerminal("app_store", "resolve build",
			fmt.Errorf("no TestFlight build for version %s", req.Version))
	}
	if state := build.Get("attributes.processingState").String(); state != "VALID" {
		return nil, errors.ErrProviderTerminal("app_store", "resolve build",
			fmt.Errorf("TestFlight build for %s is %s", req.Version, state))
	}
	return &provider.StoreUpload{ID: build.Get("id").String()}, nil
}

func (c *AppStoreClient) get(ctx context.Context, path string) ([]byte, error) {
	token, err := c.token()
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	return io.ReadAll(resp.Body)
}

// token signs a short-lived ES256 token the way App Store Connect
// requires: issuer, key ID header, appstoreconnect-v1 audience.
func (c *AppStoreClient) token() (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": c.issuerID,
		"iat": now.Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
		"aud": "appstoreconnect-v1",
	})
	t.Header["kid"] = c.keyID
	return t.SignedString(c.privateKey)
}
