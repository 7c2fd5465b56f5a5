package store

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relohq/relo/internal/provider"
	"github.com/relohq/relo/internal/release"
)

// writeTestKey writes a fresh P-256 key in the .p8 form Apple issues.
func writeTestKey(t *testing.T) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "AuthKey_TEST.p8")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path
}

func newAppStoreClient(t *testing.T, handler http.Handler) *AppStoreClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewAppStore(AppStoreOptions{
		BaseURL:        srv.URL,
		KeyID:          "TESTKEY",
		IssuerID:       "issuer-id",
		PrivateKeyFile: writeTestKey(t),
	})
	if err != nil {
		t.Fatalf("NewAppStore: %v", err)
	}
	return c
}

func TestAppStoreTarget(t *testing.T) {
	t.Parallel()

	c := newAppStoreClient(t, http.NotFoundHandler())
	if c.Target() != release.TargetAppStore {
		t.Errorf("Target = %s", c.Target())
	}
}

func TestAppStoreUploadBuildResolvesProcessedBuild(t *testing.T) {
	t.Parallel()

	var gotAuth, gotVersion string
	c := newAppStoreClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.URL.Query().Get("filter[preReleaseVersion.version]")
		w.Write([]byte(`{"data":[{"id":"build-123","attributes":{"processingState":"VALID"}}]}`))
	}))

	up, err := c.UploadBuild(context.Background(), provider.StoreUploadRequest{
		AppID:   "123456",
		Version: "6.7.0",
	})
	if err != nil {
		t.Fatalf("UploadBuild: %v", err)
	}
	if up.ID != "build-123" {
		t.Errorf("ID = %q", up.ID)
	}
	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Errorf("Authorization = %q, want signed bearer token", gotAuth)
	}
	if gotVersion != "6.7.0" {
		t.Errorf("version filter = %q", gotVersion)
	}
}

func TestAppStoreUploadBuildRejectsProcessing(t *testing.T) {
	t.Parallel()

	c := newAppStoreClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data":[{"id":"build-9","attributes":{"processingState":"PROCESSING"}}]}`))
	}))

	if _, err := c.UploadBuild(context.Background(), provider.StoreUploadRequest{Version: "6.7.0"}); err == nil {
		t.Fatal("expected error for processing build")
	}
}

func TestAppStoreUploadBuildRejectsMissing(t *testing.T) {
	t.Parallel()

	c := newAppStoreClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))

	if _, err := c.UploadBuild(context.Background(), provider.StoreUploadRequest{Version: "6.7.0"}); err == nil {
		t.Fatal("expected error when no build exists")
	}
}
