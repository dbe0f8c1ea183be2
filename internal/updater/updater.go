// Package updater checks GitHub releases for a newer curator build and
// can swap the running binary in place. Best-effort: a serve loop keeps
// running even when GitHub is unreachable, and an applied update takes
// effect only after the operator restarts the server.
package updater

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	repo       = "ponsde/OpenViking-Curator"
	binaryName = "curator"
	apiBase    = "https://api.github.com"
)

// release is the slice of the GitHub Releases API response we use.
type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// Check describes the latest release relative to the running build.
type Check struct {
	Current string
	Latest  string
	Newer   bool
	PageURL string
}

// Updater talks to the GitHub Releases API for one binary version.
type Updater struct {
	http    *resty.Client
	version string
}

// New builds an updater for the running version ("dev" disables the
// newer-release comparison).
func New(version string) *Updater {
	return newWith(apiBase, version)
}

func newWith(base, version string) *Updater {
	http := resty.New().
		SetBaseURL(base).
		SetHeader("Accept", "application/vnd.github.v3+json").
		SetHeader("User-Agent", binaryName+"/"+version).
		SetTimeout(10 * time.Second)
	return &Updater{http: http, version: strings.TrimPrefix(version, "v")}
}

// Latest fetches the newest release and compares it against the running
// version. It never fails: any network or API trouble reads as "no
// update available".
func (u *Updater) Latest() Check {
	c := Check{Current: u.version}

	rel, err := u.release()
	if err != nil {
		return c
	}
	c.Latest = strings.TrimPrefix(rel.TagName, "v")
	c.PageURL = rel.HTMLURL
	c.Newer = newerThan(c.Latest, u.version)
	return c
}

// Apply downloads the release archive for this OS/arch and atomically
// replaces the running executable.
func (u *Updater) Apply() error {
	rel, err := u.release()
	if err != nil {
		return err
	}

	latest := strings.TrimPrefix(rel.TagName, "v")
	if !newerThan(latest, u.version) {
		return fmt.Errorf("updater: already at the latest version (%s)", u.version)
	}

	want := assetName(latest)
	var url string
	for _, a := range rel.Assets {
		if a.Name == want {
			url = a.BrowserDownloadURL
			break
		}
	}
	if url == "" {
		return fmt.Errorf("updater: release %s has no %s asset", rel.TagName, want)
	}

	resp, err := u.http.R().SetDoNotParseResponse(true).Get(url)
	if err != nil {
		return fmt.Errorf("updater: download: %w", err)
	}
	body := resp.RawBody()
	defer func() { _ = body.Close() }()
	if resp.StatusCode() != 200 {
		return fmt.Errorf("updater: download: status %d", resp.StatusCode())
	}

	bin, err := binaryFromTarGz(body)
	if err != nil {
		return err
	}
	return replaceExecutable(bin)
}

func (u *Updater) release() (release, error) {
	var rel release
	resp, err := u.http.R().
		ForceContentType("application/json").
		SetResult(&rel).
		Get("/repos/" + repo + "/releases/latest")
	if err != nil {
		return rel, fmt.Errorf("updater: release lookup: %w", err)
	}
	if resp.IsError() {
		return rel, fmt.Errorf("updater: release lookup: status %d", resp.StatusCode())
	}
	return rel, nil
}

// assetName matches the goreleaser name_template for this platform.
// Releases ship tar.gz only; Windows users install manually.
func assetName(version string) string {
	return fmt.Sprintf("%s_%s_%s_%s.tar.gz", binaryName, version, runtime.GOOS, runtime.GOARCH)
}

// binaryFromTarGz pulls the curator binary out of the release archive.
func binaryFromTarGz(r io.Reader) ([]byte, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("updater: open archive: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("updater: read archive: %w", err)
		}
		if filepath.Base(header.Name) == binaryName {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("updater: extract binary: %w", err)
			}
			return data, nil
		}
	}
	return nil, fmt.Errorf("updater: %s binary not found in archive", binaryName)
}

// replaceExecutable writes the new binary next to the running one and
// renames it over, so a crash mid-update never leaves a half-written
// executable in place.
func replaceExecutable(bin []byte) error {
	if runtime.GOOS == "windows" {
		return fmt.Errorf("updater: in-place update is not supported on windows, download the release manually")
	}

	path, err := os.Executable()
	if err != nil {
		return fmt.Errorf("updater: locate executable: %w", err)
	}
	path, err = filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("updater: resolve executable: %w", err)
	}

	tmp := path + ".new"
	if err := os.WriteFile(tmp, bin, 0o755); err != nil {
		return fmt.Errorf("updater: write binary: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("updater: replace binary: %w", err)
	}
	return nil
}

// newerThan reports whether latest is a strictly higher semver than
// current. Empty versions and dev builds never count as outdated.
func newerThan(latest, current string) bool {
	if latest == "" || current == "" || current == "dev" {
		return false
	}
	lp := strings.Split(latest, ".")
	cp := strings.Split(current, ".")
	for i := 0; i < 3; i++ {
		l, c := versionPart(lp, i), versionPart(cp, i)
		if l != c {
			return l > c
		}
	}
	return false
}

// versionPart reads the leading digits of the i-th dotted component,
// tolerating suffixes like "1-rc2".
func versionPart(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	s := parts[i]
	if j := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }); j >= 0 {
		s = s[:j]
	}
	n, _ := strconv.Atoi(s)
	return n
}
