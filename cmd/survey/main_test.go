package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/survey.report/internal/logsource"
	"github.com/banshee-data/survey.report/internal/logsource/sqlitestore"
	"github.com/banshee-data/survey.report/internal/nav/correction"
	"github.com/banshee-data/survey.report/internal/nav/poscache"
	"github.com/banshee-data/survey.report/internal/sonar/normalize"
	"github.com/banshee-data/survey.report/internal/testutil"
)

// writeBundle creates a bundle with states every 100ms in [0, 1000],
// sidescan pings at 50, 150, ... 950 and one multibeam swath at 450.
func writeBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlitestore.Open(filepath.Join(dir, LogFile))
	require.NoError(t, err)
	defer store.Close()

	var msgs []*logsource.Message
	msgs = append(msgs, testutil.NavStates(7, 0, 1000, 100, 3)...)
	msgs = append(msgs, testutil.SidescanPings(100_000, 30, []byte{10, 20, 30, 40, 50, 60}, testutil.Times(50, 100, 10)...)...)
	msgs = append(msgs, testutil.Multibeam(450, -0.5, 0.5, 0.5, []byte{20, 20, 20}))
	require.NoError(t, store.Append(msgs...))
	return dir
}

func runSurvey(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := runSurvey(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "usage: survey")

	code, _, stderr = runSurvey(t, "render", t.TempDir())
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "render"`)

	code, _, stderr = runSurvey(t, "-verbose", "loud", "index", t.TempDir())
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "unknown log level")

	code, _, stderr = runSurvey(t, "-from", "500", "-to", "100", "lines", t.TempDir())
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "before -from")

	code, stdout, _ := runSurvey(t, "-version")
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout, "survey dev"), stdout)
}

func TestRun_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "survey.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"workers": -1}`), 0644))

	code, _, stderr := runSurvey(t, "-config", path, "index", t.TempDir())
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "invalid configuration")
}

func TestRun_MissingLog(t *testing.T) {
	code, _, stderr := runSurvey(t, "index", t.TempDir())
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no message log")
}

func TestRun_Index(t *testing.T) {
	dir := writeBundle(t)

	code, stdout, stderr := runSurvey(t, "index", dir)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, dir+": 11 poses from 0 to 1000 ms\n", stdout)

	p := poscache.DefaultPaths()
	assert.FileExists(t, filepath.Join(dir, p.Index))
	assert.FileExists(t, filepath.Join(dir, p.Data))
}

func TestRun_MultipleBundlesKeepOrder(t *testing.T) {
	dirs := []string{writeBundle(t), writeBundle(t), writeBundle(t)}

	code, stdout, stderr := runSurvey(t, append([]string{"index"}, dirs...)...)
	require.Equal(t, 0, code, stderr)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, len(dirs))
	for i, dir := range dirs {
		assert.True(t, strings.HasPrefix(lines[i], dir+":"), lines[i])
	}
}

func TestRun_Lines(t *testing.T) {
	dir := writeBundle(t)

	code, stdout, stderr := runSurvey(t, "-from", "200", "-to", "600", "lines", dir)
	require.Equal(t, 0, code, stderr)

	records, err := csv.NewReader(strings.NewReader(stdout)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, "timestamp_ms", records[0][0])
	var got []string
	for _, r := range records[1:] {
		got = append(got, r[0])
		assert.Equal(t, "100000", r[1])
		assert.Equal(t, "6", r[6])
	}
	assert.Equal(t, []string{"250", "350", "450", "550"}, got)
	assert.FileExists(t, filepath.Join(dir, normalize.HistogramCacheFile))

	code, stdout, stderr = runSurvey(t, "-subsystem", "455000", "lines", dir)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, 1, strings.Count(stdout, "\n"), "header only")
}

func TestRun_SwathsAndInfo(t *testing.T) {
	dir := writeBundle(t)

	code, stdout, stderr := runSurvey(t, "swaths", dir)
	require.Equal(t, 0, code, stderr)
	records, err := csv.NewReader(strings.NewReader(stdout)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	for _, r := range records[1:] {
		assert.Equal(t, "450", r[0])
	}

	code, stdout, stderr = runSurvey(t, "info", dir)
	require.Equal(t, 0, code, stderr)
	var info bundleInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, 1, info.Bathymetry.Swaths)
	assert.Equal(t, int64(3), info.Bathymetry.TotalPoints)
	assert.Equal(t, 1, info.Footprints)
	assert.Equal(t, []int64{100_000}, info.Subsystems)
}

func TestRun_Stats(t *testing.T) {
	dir := writeBundle(t)

	code, stdout, stderr := runSurvey(t, "stats", dir)
	require.Equal(t, 0, code, stderr)
	var st correction.TrackStats
	require.NoError(t, json.Unmarshal([]byte(stdout), &st))
	assert.Equal(t, 11, st.Poses)
	assert.InDelta(t, 1, st.DurationSecs, 1e-9)
	assert.InDelta(t, 3, st.MaxDepth, 1e-9)

	code, stdout, stderr = runSurvey(t, "-from", "500", "stats", dir)
	require.Equal(t, 0, code, stderr)
	require.NoError(t, json.Unmarshal([]byte(stdout), &st))
	assert.Equal(t, 6, st.Poses)
}

func TestDiscardCaches(t *testing.T) {
	dir := writeBundle(t)
	code, _, stderr := runSurvey(t, "lines", dir)
	require.Equal(t, 0, code, stderr)
	hist := filepath.Join(dir, normalize.HistogramCacheFile)
	require.FileExists(t, hist)

	require.NoError(t, discardCaches(dir))
	assert.NoFileExists(t, hist)
	assert.NoFileExists(t, filepath.Join(dir, poscache.DefaultPaths().Index))
	assert.FileExists(t, filepath.Join(dir, LogFile))

	// Nothing left to discard.
	require.NoError(t, discardCaches(dir))

	code, _, stderr = runSurvey(t, "-rebuild", "index", dir)
	require.Equal(t, 0, code, stderr)
}

func TestFiniteMean(t *testing.T) {
	assert.Equal(t, 2.0, finiteMean([]float64{math.Inf(1), 1, 3, math.NaN()}))
	assert.Equal(t, 0.0, finiteMean([]float64{math.Inf(1)}))
}
