package provider

import (
	"log/slog"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// NewHTTPClient returns an http.Client that retries transient failures
// with backoff. Plain-HTTP providers (Jenkins, Checkmate, App Store)
// build on it so one flaky poll does not fail a build task.
func NewHTTPClient(logger *slog.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	if logger != nil {
		rc.Logger = slogAdapter{logger: logger}
	} else {
		rc.Logger = nil
	}
	return rc.StandardClient()
}

// slogAdapter bridges retryablehttp's leveled logger onto slog.
type slogAdapter struct {
	logger *slog.Logger
}

var _ retryablehttp.LeveledLogger = slogAdapter{}

func (a slogAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, keysAndValues...)
}

func (a slogAdapter) Warn(msg string, keysAndValues ...interface{}) {
	a.logger.Warn(msg, keysAndValues...)
}

func (a slogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a slogAdapter) Debug(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, keysAndValues...)
}
