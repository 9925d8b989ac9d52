package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// githubRelease is the subset of the GitHub Releases API response this
// package consumes.
type githubRelease struct {
	TagName string        `json:"tag_name"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// fetchGithubManifest implements the `github:<owner>/<repo>` manifest
// reference: find the semver-greatest release, and if its tag is newer than
// currentVersion, fetch the signed manifest.txt asset it published. A
// nil, nil return means this source has no update.
func (c *Controller) fetchGithubManifest(ctx context.Context, ownerRepo string) (*Manifest, error) {
	const op = "fetchManifest"

	parts := strings.SplitN(ownerRepo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, newError(KindConfigInvalid, op, fmt.Errorf("malformed github reference %q", ownerRepo))
	}
	owner, repo := parts[0], parts[1]

	release, err := c.latestGithubRelease(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	if release == nil {
		return nil, nil
	}

	newer, err := tagIsNewer(release.TagName, c.cfg.CurrentVersion)
	if err != nil {
		return nil, newError(KindInvalidVersion, op, err)
	}
	if !newer {
		return nil, nil
	}

	for _, a := range release.Assets {
		if a.Name == "manifest.txt" {
			return c.fetchManifest(ctx, a.BrowserDownloadURL)
		}
	}
	return nil, newError(KindBadManifest, op, fmt.Errorf("release %s has no manifest.txt asset", release.TagName))
}

func (c *Controller) latestGithubRelease(ctx context.Context, owner, repo string) (*githubRelease, error) {
	if !c.cfg.AllowPrerelease {
		var rel githubRelease
		url := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", owner, repo)
		if err := c.fetcher.FetchJSON(ctx, url, &rel); err != nil {
			if kind, ok := KindOf(err); ok && kind == KindNotFound {
				return nil, nil
			}
			return nil, err
		}
		if rel.TagName == "" {
			return nil, nil
		}
		return &rel, nil
	}

	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases", owner, repo)
	pages, err := c.fetcher.FetchAllJSONPages(ctx, url)
	if err != nil {
		return nil, err
	}

	var best *githubRelease
	var bestVer *semver.Version
	for _, raw := range pages {
		var rel githubRelease
		if err := json.Unmarshal(raw, &rel); err != nil {
			continue
		}
		v, err := semver.NewVersion(rel.TagName)
		if err != nil {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			r := rel
			best = &r
			bestVer = v
		}
	}
	return best, nil
}

func tagIsNewer(tag, current string) (bool, error) {
	tagVer, err := semver.NewVersion(tag)
	if err != nil {
		return false, err
	}
	curVer, err := semver.NewVersion(current)
	if err != nil {
		return true, nil
	}
	return tagVer.GreaterThan(curVer), nil
}
