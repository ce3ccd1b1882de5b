// Package fetch downloads submitted agent code and caches it as Docker build
// contexts.
package fetch

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/google/renameio"

	"github.com/thuasta/saiblo-worker/internal/paths"
	"github.com/thuasta/saiblo-worker/pkg/logger"
)

// Fetcher downloads agent code archives from the coordinator and transcodes
// them into tarballs usable as Docker build contexts. Tarballs are cached on
// disk keyed by code ID.
type Fetcher struct {
	http  *resty.Client
	paths *paths.Manager
	log   *logger.Logger
}

// NewFetcher creates a Fetcher using the shared HTTP client.
func NewFetcher(http *resty.Client, pm *paths.Manager, log *logger.Logger) *Fetcher {
	return &Fetcher{http: http, paths: pm, log: log}
}

// Fetch returns the path to the tarball for codeID, downloading and
// transcoding it on a cache miss. A tarball is only ever observable under the
// final path once complete.
func (f *Fetcher) Fetch(ctx context.Context, codeID string) (string, error) {
	tarballPath := f.paths.AgentCodeTarball(codeID)

	if _, err := os.Stat(tarballPath); err == nil {
		return tarballPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(tarballPath), 0o755); err != nil {
		return "", fmt.Errorf("create agent code dir: %w", err)
	}

	f.log.Debug("fetching agent code", "code_id", codeID)

	resp, err := f.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/judger/codes/%s/download", codeID))
	if err != nil {
		return "", fmt.Errorf("download agent code %s: %w", codeID, err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("download agent code %s: unexpected status %s", codeID, resp.Status())
	}

	tarball, err := zipToTar(resp.Body())
	if err != nil {
		return "", fmt.Errorf("transcode agent code %s: %w", codeID, err)
	}

	// Publish atomically so a crashed download never leaves a partial
	// tarball under the final path.
	if err := renameio.WriteFile(tarballPath, tarball, 0o644); err != nil {
		return "", fmt.Errorf("write agent code tarball %s: %w", tarballPath, err)
	}

	f.log.Info("agent code fetched", "code_id", codeID)
	return tarballPath, nil
}

// List enumerates cached tarballs, returning code ID -> path.
func (f *Fetcher) List() (map[string]string, error) {
	entries, err := os.ReadDir(f.paths.AgentCodeDir())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("list agent code dir: %w", err)
	}

	tarballs := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".tar") {
			continue
		}
		codeID := strings.TrimSuffix(name, ".tar")
		tarballs[codeID] = f.paths.AgentCodeTarball(codeID)
	}
	return tarballs, nil
}

// Clean removes the whole agent code cache.
func (f *Fetcher) Clean() error {
	if err := os.RemoveAll(f.paths.AgentCodeDir()); err != nil {
		return fmt.Errorf("clean agent code dir: %w", err)
	}
	return nil
}

// zipToTar converts a zip archive into a tar archive. Directory entries are
// dropped since the build context does not need them.
func zipToTar(zipBytes []byte) ([]byte, error) {
	zipReader, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	var buf bytes.Buffer
	tarWriter := tar.NewWriter(&buf)

	for _, file := range zipReader.File {
		if strings.HasSuffix(file.Name, "/") {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open zip entry %s: %w", file.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read zip entry %s: %w", file.Name, err)
		}

		header := &tar.Header{
			Name: file.Name,
			Mode: 0o644,
			Size: int64(len(data)),
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("write tar header %s: %w", file.Name, err)
		}
		if _, err := tarWriter.Write(data); err != nil {
			return nil, fmt.Errorf("write tar entry %s: %w", file.Name, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return nil, fmt.Errorf("finalize tar: %w", err)
	}
	return buf.Bytes(), nil
}
