package scheduler

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestSaveAtomArtifactExtractsPayload(t *testing.T) {
	store := &artifactStore{root: t.TempDir()}

	payload := makeTarball(t, map[string]string{
		"console.log":    "hello\n",
		"logs/junit.xml": "<testsuite/>",
	})
	require.NoError(t, store.SaveAtomArtifact(12, 3, payload))

	content, err := os.ReadFile(filepath.Join(store.atomDir(12, 3), "console.log"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(content))

	content, err = os.ReadFile(filepath.Join(store.atomDir(12, 3), "logs", "junit.xml"))
	require.NoError(t, err)
	assert.Equal(t, "<testsuite/>", string(content))
}

func TestSaveAtomArtifactRejectsPathTraversal(t *testing.T) {
	store := &artifactStore{root: t.TempDir()}

	payload := makeTarball(t, map[string]string{"../../escape": "nope"})
	err := store.SaveAtomArtifact(1, 0, payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal path")
}

func TestSaveAtomArtifactRejectsGarbage(t *testing.T) {
	store := &artifactStore{root: t.TempDir()}
	assert.Error(t, store.SaveAtomArtifact(1, 0, []byte("not a tarball")))
}

func TestBundleBuildArchivesAllAtomDirectories(t *testing.T) {
	store := &artifactStore{root: t.TempDir()}

	require.NoError(t, store.SaveAtomArtifact(5, 0, makeTarball(t, map[string]string{"console.log": "atom zero"})))
	require.NoError(t, store.SaveAtomArtifact(5, 1, makeTarball(t, map[string]string{"console.log": "atom one"})))

	bundle, err := store.BundleBuild(5)
	require.NoError(t, err)
	assert.Equal(t, store.BundlePath(5), bundle)

	file, err := os.Open(bundle)
	require.NoError(t, err)
	defer file.Close()
	gz, err := gzip.NewReader(file)
	require.NoError(t, err)

	entries := map[string]bool{}
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err != nil {
			break
		}
		entries[header.Name] = true
	}
	assert.True(t, entries["atom_0/console.log"])
	assert.True(t, entries["atom_1/console.log"])
}

func TestBundleBuildWithoutArtifactsYieldsEmptyArchive(t *testing.T) {
	store := &artifactStore{root: t.TempDir()}

	bundle, err := store.BundleBuild(9)
	require.NoError(t, err)

	info, err := os.Stat(bundle)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
