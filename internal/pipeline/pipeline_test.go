package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archival/canonicalize/internal/dedup"
	"github.com/archival/canonicalize/internal/model"
)

func TestTruncateSampleBoundsAtTextSampleLen(t *testing.T) {
	short := "hello"
	assert.Equal(t, short, truncateSample(short))

	long := strings.Repeat("x", dedup.TextSampleLen+500)
	truncated := truncateSample(long)
	assert.Len(t, truncated, dedup.TextSampleLen)
}

func TestAppendSampleCapsAtMax(t *testing.T) {
	var samples []ErrorEntry
	for i := 0; i < maxErrorSamples+10; i++ {
		samples = appendSample(samples, ErrorEntry{FilePath: "p"}, 0)
	}
	assert.Len(t, samples, maxErrorSamples)
}

func TestAppendSampleHonorsConfiguredLimit(t *testing.T) {
	var samples []ErrorEntry
	for i := 0; i < 10; i++ {
		samples = appendSample(samples, ErrorEntry{FilePath: "p"}, 3)
	}
	assert.Len(t, samples, 3)
}

func TestProgressIntervalDefaultsOnNonPositive(t *testing.T) {
	assert.Equal(t, time.Second, progressInterval(0))
	assert.Equal(t, time.Second, progressInterval(-1))
	assert.Equal(t, 5*time.Second, progressInterval(5*time.Second))
}

func TestDiscoverFilesWalksDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("pdfbytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("text"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.txt"), []byte("nested"), 0o644))

	tasks, err := discoverFiles(dir, model.FormatPDF)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	var sawPDF, sawTxt bool
	for _, task := range tasks {
		if task.isPDF {
			sawPDF = true
		} else {
			sawTxt = true
		}
	}
	assert.True(t, sawPDF)
	assert.True(t, sawTxt)
}

func TestReadTextDirectFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain content"), 0o644))

	text, err := readText(path)
	require.NoError(t, err)
	assert.Equal(t, "plain content", text)
}

func TestReadTextSidecarForNonTextFiles(t *testing.T) {
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-fake"), 0o644))
	require.NoError(t, os.WriteFile(pdfPath+".txt", []byte("ocr extracted text"), 0o644))

	text, err := readText(pdfPath)
	require.NoError(t, err)
	assert.Equal(t, "ocr extracted text", text)
}

func TestReadTextNoSidecarReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-fake"), 0o644))

	text, err := readText(pdfPath)
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestEMARatePositiveAfterFirstTick(t *testing.T) {
	e := newEMA()
	time.Sleep(2 * time.Millisecond)
	e.tick()
	rate := e.rate()
	assert.Greater(t, rate, 0.0)
}
