package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vinewatch/internal/types"
)

var testDay = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func fillTestDay(store *memStore, day time.Time, tempF float64, skipSlots map[int]bool) {
	start := day.Unix()
	for i := 0; i < types.SamplesPerDay; i++ {
		if skipSlots[i] {
			continue
		}
		store.put(start+int64(i)*types.SampleIntervalSeconds, tempF, "station")
	}
}

func newTestInterpolator(store *memStore, archive *fakeArchive) *Interpolator {
	return NewInterpolator(store, archive, 6*time.Hour, testLogger())
}

func TestFillDay_MidpointIsExactAverage(t *testing.T) {
	store := newMemStore()
	// Complete day except one slot; its neighbors are 50.0 and 51.0.
	fillTestDay(store, testDay, 50.0, map[int]bool{10: true})
	start := testDay.Unix()
	store.put(start+11*types.SampleIntervalSeconds, 51.0, "station")

	ip := newTestInterpolator(store, &fakeArchive{})
	inserted, err := ip.FillDay(context.Background(), testDay)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	got := store.rows[start+10*types.SampleIntervalSeconds]
	require.NotNil(t, got.TempF)
	assert.Equal(t, 50.5, *got.TempF)
	assert.True(t, got.IsSynthetic)
	assert.Equal(t, types.SourceInterpolated, got.SourceTag)
}

func TestFillDay_CompleteDayUntouched(t *testing.T) {
	store := newMemStore()
	fillTestDay(store, testDay, 55.0, nil)

	archive := &fakeArchive{}
	ip := newTestInterpolator(store, archive)
	inserted, err := ip.FillDay(context.Background(), testDay)
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Zero(t, archive.historicalCalls)
}

func TestFillDay_HasNoThresholdOfItsOwn(t *testing.T) {
	store := newMemStore()
	fillTestDay(store, testDay, 55.0, map[int]bool{100: true})

	ip := newTestInterpolator(store, &fakeArchive{})
	inserted, err := ip.FillDay(context.Background(), testDay)
	require.NoError(t, err)
	// Completeness is the orchestrator's decision; once asked, FillDay
	// synthesizes every empty slot.
	assert.Equal(t, 1, inserted)
}

func TestFillDay_Idempotent(t *testing.T) {
	store := newMemStore()
	fillTestDay(store, testDay, 50.0, map[int]bool{10: true, 11: true, 12: true})

	ip := newTestInterpolator(store, &fakeArchive{})
	first, err := ip.FillDay(context.Background(), testDay)
	require.NoError(t, err)
	assert.Equal(t, 3, first)

	second, err := ip.FillDay(context.Background(), testDay)
	require.NoError(t, err)
	assert.Zero(t, second)
}

func TestFillDay_FlatExtrapolationAtEdges(t *testing.T) {
	store := newMemStore()
	start := testDay.Unix()
	// Only a mid-day segment exists; no adjacent days.
	for i := 100; i < 200; i++ {
		store.put(start+int64(i)*types.SampleIntervalSeconds, 60.0, "station")
	}

	// Gap threshold above 24h so the archive is not consulted.
	ip := NewInterpolator(store, &fakeArchive{}, 48*time.Hour, testLogger())
	_, err := ip.FillDay(context.Background(), testDay)
	require.NoError(t, err)

	// Slots before the first known point extend flat.
	first := store.rows[start]
	require.NotNil(t, first.TempF)
	assert.Equal(t, 60.0, *first.TempF)

	last := store.rows[start+287*types.SampleIntervalSeconds]
	require.NotNil(t, last.TempF)
	assert.Equal(t, 60.0, *last.TempF)
}

func TestFillDay_BoundaryAnchorsFromAdjacentDays(t *testing.T) {
	store := newMemStore()
	start := testDay.Unix()
	// The day itself has one point; anchors exist just outside both edges.
	store.put(start-types.SampleIntervalSeconds, 40.0, "station")
	store.put(start+144*types.SampleIntervalSeconds, 50.0, "station")
	store.put(start+86400, 60.0, "station")

	ip := NewInterpolator(store, &fakeArchive{}, 48*time.Hour, testLogger())
	_, err := ip.FillDay(context.Background(), testDay)
	require.NoError(t, err)

	// The first slot interpolates between the previous-day anchor and the
	// mid-day point rather than extrapolating flat.
	first := store.rows[start]
	require.NotNil(t, first.TempF)
	assert.Greater(t, *first.TempF, 40.0)
	assert.Less(t, *first.TempF, 50.0)
}

func TestFillDay_WideGapEscalatesToArchive(t *testing.T) {
	store := newMemStore()
	start := testDay.Unix()
	// Points only in the first hour: a gap of ~23h to the day edge.
	for i := 0; i < 12; i++ {
		store.put(start+int64(i)*types.SampleIntervalSeconds, 45.0, "station")
	}

	archive := &fakeArchive{historical: hourlyRamp(start)}
	ip := newTestInterpolator(store, archive)

	inserted, err := ip.FillDay(context.Background(), testDay)
	require.NoError(t, err)
	assert.Equal(t, 1, archive.historicalCalls)
	assert.Greater(t, inserted, 0)

	// Archive hours landed as secondary-source rows.
	noon := store.rows[start+144*types.SampleIntervalSeconds]
	require.NotNil(t, noon.TempF)
	assert.Equal(t, types.SourceSecondary, noon.SourceTag)
}

func TestFillDay_ArchiveFailureStillInterpolates(t *testing.T) {
	store := newMemStore()
	start := testDay.Unix()
	store.put(start, 45.0, "station")
	store.put(start+86400-types.SampleIntervalSeconds, 47.0, "station")

	archive := &fakeArchive{historicalErr: errors.New("archive down")}
	ip := newTestInterpolator(store, archive)

	inserted, err := ip.FillDay(context.Background(), testDay)
	require.NoError(t, err)
	assert.Equal(t, 1, archive.historicalCalls)
	assert.Equal(t, types.SamplesPerDay-2, inserted)
}

func TestFillDay_NoDataAnywhereSkips(t *testing.T) {
	store := newMemStore()
	archive := &fakeArchive{}
	ip := newTestInterpolator(store, archive)

	inserted, err := ip.FillDay(context.Background(), testDay)
	require.NoError(t, err)
	assert.Zero(t, inserted)
}

func TestFillDay_NeverOverwritesRealTemperature(t *testing.T) {
	store := newMemStore()
	fillTestDay(store, testDay, 50.0, map[int]bool{10: true})
	start := testDay.Unix()
	store.put(start+11*types.SampleIntervalSeconds, 99.0, "station")

	ip := newTestInterpolator(store, &fakeArchive{})
	_, err := ip.FillDay(context.Background(), testDay)
	require.NoError(t, err)

	// The real reading at slot 11 is untouched.
	assert.Equal(t, 99.0, *store.rows[start+11*types.SampleIntervalSeconds].TempF)
	assert.Equal(t, "station", store.rows[start+11*types.SampleIntervalSeconds].SourceTag)
}

func TestRoundTenth(t *testing.T) {
	assert.Equal(t, 50.5, roundTenth(50.45))
	assert.Equal(t, 50.4, roundTenth(50.44))
	assert.Equal(t, -3.2, roundTenth(-3.24))
}
