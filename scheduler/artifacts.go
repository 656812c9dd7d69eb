package scheduler

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// artifactStore lays out build artifacts on disk: one directory per build,
// one subdirectory per atom, and a single gzipped tarball bundling the whole
// build directory once it is terminal.
type artifactStore struct {
	root string
}

func (s *artifactStore) buildDir(buildID uint64) string {
	return path.Join(s.root, "artifacts", fmt.Sprint(buildID))
}

func (s *artifactStore) atomDir(buildID uint64, ordinal int) string {
	return path.Join(s.buildDir(buildID), fmt.Sprintf("atom_%d", ordinal))
}

// BundlePath is where the terminal build's archive lives.
func (s *artifactStore) BundlePath(buildID uint64) string {
	return path.Join(s.root, "artifacts", fmt.Sprintf("%d.tar.gz", buildID))
}

// SaveAtomArtifact extracts an atom's gzipped tarball payload into the
// atom's artifact subdirectory.
func (s *artifactStore) SaveAtomArtifact(buildID uint64, ordinal int, payload []byte) error {
	dir := s.atomDir(buildID, ordinal)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create atom artifact directory: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to read artifact payload: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read artifact tarball: %w", err)
		}

		name := filepath.Clean(header.Name)
		if name == ".." || strings.HasPrefix(name, ".."+string(os.PathSeparator)) || filepath.IsAbs(name) {
			return fmt.Errorf("artifact tarball contains illegal path %q", header.Name)
		}
		target := filepath.Join(dir, name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create artifact directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("failed to create artifact directory: %w", err)
			}
			file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode&0777))
			if err != nil {
				return fmt.Errorf("failed to create artifact file: %w", err)
			}
			if _, err := io.Copy(file, tr); err != nil {
				file.Close()
				return fmt.Errorf("failed to write artifact file: %w", err)
			}
			file.Close()
		}
	}
}

// BundleBuild archives the whole build artifact directory into a single
// gzipped tarball for retrieval, and returns its path. Builds that produced
// no artifacts get an empty archive.
func (s *artifactStore) BundleBuild(buildID uint64) (string, error) {
	dir := s.buildDir(buildID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create build artifact directory: %w", err)
	}

	bundle := s.BundlePath(buildID)
	file, err := os.OpenFile(bundle, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact bundle: %w", err)
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	err = filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == "." {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to bundle artifacts: %w", err)
	}
	return bundle, nil
}
