package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type UpstreamStatusError struct {
	PackageName string
	StatusCode  int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream registry returned %d for %s", e.StatusCode, e.PackageName)
}

type NpmRegistrySource struct {
	baseURL    string
	httpClient *http.Client
	sugar      *zap.SugaredLogger
}

func NewNpmRegistrySource(baseURL string, httpClient *http.Client, sugar *zap.SugaredLogger) *NpmRegistrySource {
	return &NpmRegistrySource{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		sugar:      sugar,
	}
}

// Fetches the abbreviated registry document for a package. Scoped names are
// sent with the slash escaped, which is what the npm registry expects.
func (r *NpmRegistrySource) Fetch(ctx context.Context, packageName string) (entry RegistryEntry, err error) {
	if packageName == "" {
		return nil, errors.New("empty package name")
	}
	r.sugar.Infof("retrieving %s registry entry from upstream", packageName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/"+url.PathEscape(packageName), nil)
	if err != nil {
		return nil, fmt.Errorf("error making HTTP request for %s: %w", packageName, err)
	}
	req.Header.Set("Accept", NPM_INSTALL_CONTENT_TYPE)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error getting HTTP response for %s: %w", packageName, err)
	}
	defer func() {
		err = multierr.Append(err, resp.Body.Close())
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamStatusError{PackageName: packageName, StatusCode: resp.StatusCode}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading HTTP response body for %s: %w", packageName, err)
	}
	entry, err = ParseRegistryEntry(respBody)
	if err != nil {
		return nil, fmt.Errorf("error parsing upstream entry for %s: %w", packageName, err)
	}
	return entry, nil
}
