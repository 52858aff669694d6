package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vinewatch/internal/config"
	"vinewatch/internal/external"
	"vinewatch/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCultivarStore struct {
	thresholds map[string]*int
	biofixes   map[string]string
}

func (f *fakeCultivarStore) UpsertThreshold(_ context.Context, name string, heatSummation *int) error {
	if f.thresholds == nil {
		f.thresholds = map[string]*int{}
	}
	f.thresholds[name] = heatSummation
	return nil
}

// SetBiofix mirrors the repository's guard: a stored biofix is never
// replaced.
func (f *fakeCultivarStore) SetBiofix(_ context.Context, name string, biofix *string) error {
	if f.biofixes == nil {
		f.biofixes = map[string]string{}
	}
	if _, set := f.biofixes[name]; set {
		return nil
	}
	if biofix != nil {
		f.biofixes[name] = *biofix
	}
	return nil
}

type fakeReferenceStore struct {
	pests    []types.Pest
	sunspots []types.Sunspot
}

func (f *fakeReferenceStore) UpsertPest(_ context.Context, p types.Pest) error {
	f.pests = append(f.pests, p)
	return nil
}

func (f *fakeReferenceStore) UpsertSunspots(_ context.Context, spots []types.Sunspot) error {
	f.sunspots = append(f.sunspots, spots...)
	return nil
}

func newTestImporter(files config.FilesConfig, client *external.BaseClient) (*Importer, *fakeCultivarStore, *fakeReferenceStore) {
	cultivars := &fakeCultivarStore{}
	reference := &fakeReferenceStore{}
	return NewImporter(cultivars, reference, files, client, testLogger()), cultivars, reference
}

func TestImportCultivarRows(t *testing.T) {
	csvData := strings.Join([]string{
		"variety,heat_summation",
		"Pinot Noir,224",
		"Chardonnay,212",
		"Mystery Vine,unknown",
		",999",
	}, "\n")

	imp, cultivars, _ := newTestImporter(config.FilesConfig{}, nil)
	n, err := imp.importCultivarRows(context.Background(), strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NotNil(t, cultivars.thresholds["Pinot Noir"])
	assert.Equal(t, 224, *cultivars.thresholds["Pinot Noir"])

	// A bad threshold still imports the variety, as unscoreable.
	var found bool
	_, found = cultivars.thresholds["Mystery Vine"]
	assert.True(t, found)
	assert.Nil(t, cultivars.thresholds["Mystery Vine"])
}

func TestImportCultivarRows_OptionalBiofix(t *testing.T) {
	csvData := strings.Join([]string{
		"variety,heat_summation,biofix_date",
		"Pinot Noir,224,2000-03-01",
		"Chardonnay,212,",
		"Syrah,300,not-a-date",
	}, "\n")

	imp, cultivars, _ := newTestImporter(config.FilesConfig{}, nil)
	n, err := imp.importCultivarRows(context.Background(), strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, "2000-03-01", cultivars.biofixes["Pinot Noir"])
	assert.NotContains(t, cultivars.biofixes, "Chardonnay")
	assert.NotContains(t, cultivars.biofixes, "Syrah")
}

func TestImportCultivarRows_KeepsExistingBiofix(t *testing.T) {
	csvData := strings.Join([]string{
		"variety,heat_summation,biofix_date",
		"Pinot Noir,224,2026-01-01",
	}, "\n")

	imp, cultivars, _ := newTestImporter(config.FilesConfig{}, nil)
	cultivars.biofixes = map[string]string{"Pinot Noir": "2026-02-10"}

	_, err := imp.importCultivarRows(context.Background(), strings.NewReader(csvData))
	require.NoError(t, err)

	// The operator-recorded biofix survives the import.
	assert.Equal(t, "2026-02-10", cultivars.biofixes["Pinot Noir"])
}

func TestImportCultivarRows_MissingColumn(t *testing.T) {
	imp, _, _ := newTestImporter(config.FilesConfig{}, nil)
	_, err := imp.importCultivarRows(context.Background(), strings.NewReader("variety\nPinot Noir\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heat_summation")
}

func TestImportPestRows(t *testing.T) {
	csvData := strings.Join([]string{
		"sequence_id,common_name,scientific_name,dormant,stage,gdd_min,gdd_max",
		"1,Grape Berry Moth,Paralobesia viteana,true,overwintering,,",
		"2,Grape Berry Moth,Paralobesia viteana,false,first flight,245,710",
		"oops,Broken Row,,,,,",
	}, "\n")

	imp, _, reference := newTestImporter(config.FilesConfig{}, nil)
	n, err := imp.importPestRows(context.Background(), strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, reference.pests, 2)
	assert.True(t, reference.pests[0].Dormant)
	assert.Nil(t, reference.pests[0].MinGDD)
	require.NotNil(t, reference.pests[1].MinGDD)
	assert.Equal(t, 245, *reference.pests[1].MinGDD)
	assert.Equal(t, "first flight", reference.pests[1].Stage)
}

const sunspotSample = `1818;01;01;1818.001;  -1; -1.0;   0;1
2019;12;31;2019.999;   2;  1.0;  21;1
2024;06;01;2024.416;  -1; -1.0;   0;0
2024;06;02;2024.419; 154; 11.2;  28;0
`

func TestImportSunspotRows(t *testing.T) {
	imp, _, reference := newTestImporter(config.FilesConfig{}, nil)
	n, err := imp.importSunspotRows(context.Background(), strings.NewReader(sunspotSample))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Pre-2010 rows are trimmed.
	require.Len(t, reference.sunspots, 3)
	assert.Equal(t, 2019, reference.sunspots[0].Year)

	// -1 daily totals are missing observations.
	assert.Nil(t, reference.sunspots[1].DailyTotal)
	require.NotNil(t, reference.sunspots[2].DailyTotal)
	assert.Equal(t, 154, *reference.sunspots[2].DailyTotal)
	assert.Equal(t, time.Date(2024, time.June, 2, 0, 0, 0, 0, time.UTC), reference.sunspots[2].Date)
}

func sunspotTestClient() *external.BaseClient {
	return external.NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"sunspot-test",
		external.DefaultRetryPolicy(),
		"vinewatch-test",
		external.WithSleepFunc(func(time.Duration) {}),
	)
}

func TestImportSunspots_DownloadsWhenLocalMissing(t *testing.T) {
	var gets, heads int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			heads++
		case http.MethodGet:
			gets++
			fmt.Fprint(w, sunspotSample)
		}
	}))
	defer server.Close()

	files := config.FilesConfig{
		SunspotCSV: filepath.Join(t.TempDir(), "sunspots.csv"),
		SunspotURL: server.URL,
	}
	imp, _, reference := newTestImporter(files, sunspotTestClient())

	n, err := imp.ImportSunspots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, gets)
	assert.Len(t, reference.sunspots, 3)

	// Local copy was written for the next run.
	_, err = os.Stat(files.SunspotCSV)
	require.NoError(t, err)
}

func TestImportSunspots_SkipsDownloadWhenNotModified(t *testing.T) {
	var gets int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.Header().Set("Last-Modified", time.Now().UTC().Add(-24*time.Hour).Format(http.TimeFormat))
		case http.MethodGet:
			gets++
			fmt.Fprint(w, sunspotSample)
		}
	}))
	defer server.Close()

	local := filepath.Join(t.TempDir(), "sunspots.csv")
	require.NoError(t, os.WriteFile(local, []byte(sunspotSample), 0o644))

	files := config.FilesConfig{SunspotCSV: local, SunspotURL: server.URL}
	imp, _, reference := newTestImporter(files, sunspotTestClient())

	n, err := imp.ImportSunspots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, gets)
	assert.Len(t, reference.sunspots, 3)
}

func TestImportSunspots_DownloadFailureFallsBackToLocal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	local := filepath.Join(t.TempDir(), "sunspots.csv")
	require.NoError(t, os.WriteFile(local, []byte(sunspotSample), 0o644))

	files := config.FilesConfig{SunspotCSV: local, SunspotURL: server.URL}
	imp, _, reference := newTestImporter(files, sunspotTestClient())

	n, err := imp.ImportSunspots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, reference.sunspots, 3)
}
