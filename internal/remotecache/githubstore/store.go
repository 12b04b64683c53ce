// Package githubstore implements remotecache.Store on GitHub releases: each
// namespace is a release tag of a repository and each blob a release asset.
// The asset's updated_at field is the recorded update time.
//
// Release assets cannot be replaced in place, so Put deletes an existing
// asset of the same name before uploading.
package githubstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/specialistvlad/stagerun/internal/remotecache"
	"resty.dev/v3"
)

const (
	// DefaultAPIURL is the public GitHub REST endpoint.
	DefaultAPIURL = "https://api.github.com"
	// DefaultUploadURL is the public GitHub upload endpoint for release assets.
	DefaultUploadURL = "https://uploads.github.com"

	pageSize = 100
)

// Options configures a Store.
type Options struct {
	// Repo is the repository in "owner/name" form.
	Repo string
	// Token is a personal access token; anonymous access is read-only.
	Token     string
	APIURL    string
	UploadURL string
	Timeout   time.Duration
}

// APIError is a non-2xx answer from GitHub.
type APIError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("github %s %s: status %d: %s", e.Method, e.URL, e.Status, body)
}

type release struct {
	ID        int64     `json:"id"`
	TagName   string    `json:"tag_name"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type asset struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a asset) blob() remotecache.Blob {
	return remotecache.Blob{Name: a.Name, Size: a.Size, UpdatedAt: a.UpdatedAt}
}

// Store is a GitHub-releases-backed remotecache.Store.
type Store struct {
	owner   string
	repo    string
	api     *resty.Client
	uploads *resty.Client

	// releases memoizes tag -> release id for the lifetime of the store.
	releases map[string]int64
}

// New validates the options and builds the HTTP clients.
func New(opts Options) (*Store, error) {
	owner, repo, ok := strings.Cut(opts.Repo, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("github repository must be in 'owner/name' form, got %q", opts.Repo)
	}
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.UploadURL == "" {
		opts.UploadURL = DefaultUploadURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = remotecache.DefaultTimeout
	}

	return &Store{
		owner:    owner,
		repo:     repo,
		api:      newClient(opts.APIURL, opts.Token, opts.Timeout),
		uploads:  newClient(opts.UploadURL, opts.Token, opts.Timeout),
		releases: make(map[string]int64),
	}, nil
}

func newClient(baseURL, token string, timeout time.Duration) *resty.Client {
	c := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28")
	if token != "" {
		c.SetAuthToken(token)
	}
	return c
}

func (s *Store) request(ctx context.Context, c *resty.Client) *resty.Request {
	return c.R().
		SetContext(ctx).
		SetPathParam("owner", s.owner).
		SetPathParam("repo", s.repo)
}

func check(method, url string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("github %s %s: %w", method, url, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("github %s %s: %w", method, url, remotecache.ErrNotFound)
	}
	if resp.IsError() {
		return &APIError{Method: method, URL: url, Status: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// Namespaces returns release tags, newest first.
func (s *Store) Namespaces(ctx context.Context) ([]string, error) {
	const url = "/repos/{owner}/{repo}/releases"
	var tags []string
	for page := 1; ; page++ {
		var rels []release
		resp, err := s.request(ctx, s.api).
			SetQueryParam("per_page", strconv.Itoa(pageSize)).
			SetQueryParam("page", strconv.Itoa(page)).
			SetResult(&rels).
			Get(url)
		if err := check(http.MethodGet, url, resp, err); err != nil {
			return nil, err
		}
		for _, r := range rels {
			tags = append(tags, r.TagName)
			s.releases[r.TagName] = r.ID
		}
		if len(rels) < pageSize {
			return tags, nil
		}
	}
}

func (s *Store) releaseID(ctx context.Context, tag string) (int64, error) {
	if id, ok := s.releases[tag]; ok {
		return id, nil
	}
	const url = "/repos/{owner}/{repo}/releases/tags/{tag}"
	var rel release
	resp, err := s.request(ctx, s.api).
		SetPathParam("tag", tag).
		SetResult(&rel).
		Get(url)
	if err := check(http.MethodGet, url, resp, err); err != nil {
		return 0, err
	}
	s.releases[tag] = rel.ID
	return rel.ID, nil
}

// EnsureNamespace creates a release for the tag if there is none.
func (s *Store) EnsureNamespace(ctx context.Context, namespace string) error {
	_, err := s.releaseID(ctx, namespace)
	if err == nil || !errors.Is(err, remotecache.ErrNotFound) {
		return err
	}

	const url = "/repos/{owner}/{repo}/releases"
	var rel release
	resp, err := s.request(ctx, s.api).
		SetBody(map[string]any{"tag_name": namespace, "name": namespace}).
		SetResult(&rel).
		Post(url)
	if err := check(http.MethodPost, url, resp, err); err != nil {
		return err
	}
	s.releases[namespace] = rel.ID
	return nil
}

// DeleteNamespace deletes the release and its tag.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	id, err := s.releaseID(ctx, namespace)
	if err != nil {
		return err
	}

	const url = "/repos/{owner}/{repo}/releases/{id}"
	resp, err := s.request(ctx, s.api).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Delete(url)
	if err := check(http.MethodDelete, url, resp, err); err != nil {
		return err
	}
	delete(s.releases, namespace)

	// Deleting a release keeps its git tag.
	const refURL = "/repos/{owner}/{repo}/git/refs/tags/{tag}"
	resp, err = s.request(ctx, s.api).
		SetPathParam("tag", namespace).
		Delete(refURL)
	if err := check(http.MethodDelete, refURL, resp, err); err != nil && !errors.Is(err, remotecache.ErrNotFound) {
		return err
	}
	return nil
}

func (s *Store) assets(ctx context.Context, namespace string) ([]asset, error) {
	id, err := s.releaseID(ctx, namespace)
	if err != nil {
		return nil, err
	}

	const url = "/repos/{owner}/{repo}/releases/{id}/assets"
	var all []asset
	for page := 1; ; page++ {
		var batch []asset
		resp, err := s.request(ctx, s.api).
			SetPathParam("id", strconv.FormatInt(id, 10)).
			SetQueryParam("per_page", strconv.Itoa(pageSize)).
			SetQueryParam("page", strconv.Itoa(page)).
			SetResult(&batch).
			Get(url)
		if err := check(http.MethodGet, url, resp, err); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < pageSize {
			return all, nil
		}
	}
}

func (s *Store) findAsset(ctx context.Context, namespace, name string) (asset, error) {
	assets, err := s.assets(ctx, namespace)
	if err != nil {
		return asset{}, err
	}
	for _, a := range assets {
		if a.Name == name {
			return a, nil
		}
	}
	return asset{}, fmt.Errorf("asset %q in release %q: %w", name, namespace, remotecache.ErrNotFound)
}

// List returns every asset of the release.
func (s *Store) List(ctx context.Context, namespace string) ([]remotecache.Blob, error) {
	assets, err := s.assets(ctx, namespace)
	if err != nil {
		return nil, err
	}
	blobs := make([]remotecache.Blob, len(assets))
	for i, a := range assets {
		blobs[i] = a.blob()
	}
	return blobs, nil
}

// Stat looks the asset up by name.
func (s *Store) Stat(ctx context.Context, namespace, name string) (remotecache.Blob, error) {
	a, err := s.findAsset(ctx, namespace, name)
	if err != nil {
		return remotecache.Blob{}, err
	}
	return a.blob(), nil
}

// Put deletes any asset with the same name and uploads localPath.
func (s *Store) Put(ctx context.Context, namespace, name, localPath string) (remotecache.Blob, error) {
	id, err := s.releaseID(ctx, namespace)
	if err != nil {
		return remotecache.Blob{}, err
	}

	existing, err := s.findAsset(ctx, namespace, name)
	switch {
	case err == nil:
		if err := s.deleteAsset(ctx, existing.ID); err != nil {
			return remotecache.Blob{}, fmt.Errorf("replacing asset %q: %w", name, err)
		}
	case !errors.Is(err, remotecache.ErrNotFound):
		return remotecache.Blob{}, err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return remotecache.Blob{}, err
	}

	const url = "/repos/{owner}/{repo}/releases/{id}/assets"
	var uploaded asset
	resp, err := s.request(ctx, s.uploads).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetQueryParam("name", name).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		SetResult(&uploaded).
		Post(url)
	if err := check(http.MethodPost, url, resp, err); err != nil {
		return remotecache.Blob{}, err
	}
	return uploaded.blob(), nil
}

// Get streams the asset content into destPath.
func (s *Store) Get(ctx context.Context, namespace, name, destPath string) error {
	a, err := s.findAsset(ctx, namespace, name)
	if err != nil {
		return err
	}

	const url = "/repos/{owner}/{repo}/releases/assets/{asset_id}"
	resp, err := s.request(ctx, s.api).
		SetPathParam("asset_id", strconv.FormatInt(a.ID, 10)).
		SetHeader("Accept", "application/octet-stream").
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return check(http.MethodGet, url, resp, err)
	}
	defer resp.Body.Close()
	if err := check(http.MethodGet, url, resp, nil); err != nil {
		return err
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", destPath, err)
	}
	return out.Close()
}

// Delete removes a single asset.
func (s *Store) Delete(ctx context.Context, namespace, name string) error {
	a, err := s.findAsset(ctx, namespace, name)
	if err != nil {
		return err
	}
	return s.deleteAsset(ctx, a.ID)
}

func (s *Store) deleteAsset(ctx context.Context, assetID int64) error {
	const url = "/repos/{owner}/{repo}/releases/assets/{asset_id}"
	resp, err := s.request(ctx, s.api).
		SetPathParam("asset_id", strconv.FormatInt(assetID, 10)).
		Delete(url)
	return check(http.MethodDelete, url, resp, err)
}
