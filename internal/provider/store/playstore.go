// Package store implements the distribution capability for the two
// mobile app stores: Google Play (androidpublisher edits) and Apple's
// App Store (App Store Connect API).
package store

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/provider"
	"github.com/relohq/relo/internal/release"
)

// Compile-time interface check.
var _ provider.Store = (*PlayClient)(nil)

// PlayOptions configures the Play Store publisher.
type PlayOptions struct {
	// CredentialsFile is a service account JSON key with access to the
	// Play developer account.
	CredentialsFile string
	// PackageName is the default application ID when a request does
	// not carry one.
	PackageName string
	// Track receives committed builds. Defaults to "internal".
	Track string
}

// PlayClient publishes builds through the androidpublisher edit flow.
type PlayClient struct {
	svc         *androidpublisher.Service
	packageName string
	track       string
}

// NewPlay creates a Play Store client from a service account key.
func NewPlay(ctx context.Context, opts PlayOptions) (*PlayClient, error) {
	if opts.CredentialsFile == "" {
		return nil, errors.ErrConfigMissing("play_store.credentials_file")
	}
	svc, err := androidpublisher.NewService(ctx,
		option.WithCredentialsFile(opts.CredentialsFile),
		option.WithScopes(androidpublisher.AndroidpublisherScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create androidpublisher service: %w", err)
	}

	track := opts.Track
	if track == "" {
		track = "internal"
	}
	return &PlayClient{svc: svc, packageName: opts.PackageName, track: track}, nil
}

// Target returns the distribution target this client serves.
func (c *PlayClient) Target() release.Target { return release.TargetPlayStore }

// VerifyCredentials opens and immediately discards an edit, which
// exercises both the key and the package access.
func (c *PlayClient) VerifyCredentials(ctx context.Context) error {
	edit, err := c.svc.Edits.Insert(c.packageName, nil).Context(ctx).Do()
	if err != nil {
		return errors.ErrProviderTerminal("play_store", "verify credentials", err)
	}
	// Best effort; an abandoned edit expires on its own.
	_ = c.svc.Edits.Delete(c.packageName, edit.Id).Context(ctx).Do()
	return nil
}

// UploadBuild runs one edit transaction: upload the artifact, assign
// it to the track, commit.
func (c *PlayClient) UploadBuild(ctx context.Context, req provider.StoreUploadRequest) (*provider.StoreUpload, error) {
	pkg := req.AppID
	if pkg == "" {
		pkg = c.packageName
	}
	if pkg == "" {
		return nil, errors.ErrConfigMissing("play_store.package_name")
	}

	edit, err := c.svc.Edits.Insert(pkg, nil).Context(ctx).Do()
	if err != nil {
		return nil, errors.ErrProviderTerminal("play_store", "open edit", err)
	}

	f, err := os.Open(req.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	var versionCode int64
	if strings.HasSuffix(strings.ToLower(req.ArtifactPath), ".aab") {
		bundle, err := c.svc.Edits.Bundles.Upload(pkg, edit.Id).
			Media(f, googleapi.ContentType("application/octet-stream")).
			Context(ctx).Do()
		if err != nil {
			return nil, errors.ErrProviderTerminal("play_store", "upload bundle", err)
		}
		versionCode = bundle.VersionCode
	} else {
		apk, err := c.svc.Edits.Apks.Upload(pkg, edit.Id).
			Media(f, googleapi.ContentType("application/vnd.android.package-archive")).
			Context(ctx).Do()
		if err != nil {
			return nil, errors.ErrProviderTerminal("play_store", "upload apk", err)
		}
		versionCode = apk.VersionCode
	}

	_, err = c.svc.Edits.Tracks.Update(pkg, edit.Id, c.track, &androidpublisher.Track{
		Releases: []*androidpublisher.TrackRelease{{
			Name:         req.Version,
			VersionCodes: []int64{versionCode},
			Status:       "completed",
		}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, errors.ErrProviderTerminal("play_store", "assign track "+c.track, err)
	}

	committed, err := c.svc.Edits.Commit(pkg, edit.Id).Context(ctx).Do()
	if err != nil {
		return nil, errors.ErrProviderTerminal("play_store", "commit edit", err)
	}
	return &provider.StoreUpload{ID: committed.Id}, nil
}
