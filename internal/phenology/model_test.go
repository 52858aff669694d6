package phenology

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vinewatch/internal/types"
)

func learnedFixture() (*fakeReadings, *fakeCultivars, *fakeTraining, *Projector) {
	readings := &fakeReadings{chillCount: 1200}
	// Two historical seasons with the same crossing, different early pace.
	readings.add(2023, time.March, 1, 70)
	addCrossing(readings, 2023, 100, 200)
	readings.add(2024, time.February, 29, 90)
	addCrossing(readings, 2024, 100, 200)
	// Current season partway in.
	readings.add(2025, time.March, 1, 80)

	cultivars := newFakeCultivars(&types.Cultivar{Name: "Pinot Noir", HeatSummation: intPtr(200)})
	training := newFakeTraining()
	p := NewProjector(readings, cultivars, training, 14, testLogger(),
		fixedClock(2025, time.March, 1))
	return readings, cultivars, training, p
}

func TestBuildTrainingData_OneSamplePerHistoricalYear(t *testing.T) {
	_, _, training, p := learnedFixture()

	features, labels, err := p.BuildTrainingData(context.Background())
	require.NoError(t, err)
	require.Len(t, features, 2)
	require.Len(t, labels, 2)
	assert.Equal(t, 2, training.upserts)

	// 2023 had 70 GDD by March 1 and crossed at 200.
	assert.Equal(t, []float64{70, 60, 100, 80, 10, 200}, features[0])
	assert.Equal(t, 130.0, labels[0])
	assert.Equal(t, 110.0, labels[1])
}

func TestBuildTrainingData_SecondRunHitsCache(t *testing.T) {
	_, _, training, p := learnedFixture()

	first, _, err := p.BuildTrainingData(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, training.upserts)

	second, labels, err := p.BuildTrainingData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, training.upserts)
	assert.ElementsMatch(t, first, second)
	assert.ElementsMatch(t, []float64{130.0, 110.0}, labels)
}

func TestBuildTrainingData_NoHistory(t *testing.T) {
	readings := &fakeReadings{}
	readings.add(2025, time.March, 1, 80)

	cultivars := newFakeCultivars(&types.Cultivar{Name: "Pinot Noir", HeatSummation: intPtr(200)})
	p := NewProjector(readings, cultivars, newFakeTraining(), 14, testLogger(),
		fixedClock(2025, time.March, 1))

	_, _, err := p.BuildTrainingData(context.Background())
	require.Error(t, err)
}

func TestProjectLearned_PredictsForwardDate(t *testing.T) {
	_, cultivars, _, p := learnedFixture()

	features, labels, err := p.BuildTrainingData(context.Background())
	require.NoError(t, err)
	m, err := Train(features, labels, DefaultTrainParams())
	require.NoError(t, err)

	require.NoError(t, p.ProjectLearned(context.Background(), m))

	predicted, ok := cultivars.model["Pinot Noir"]
	require.True(t, ok)
	d, err := time.Parse("2006-01-02", predicted)
	require.NoError(t, err)

	today := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	assert.False(t, d.Before(today))
	assert.True(t, d.Before(today.AddDate(1, 0, 0)))
}

func TestProjectLearned_SkipsWithoutThreshold(t *testing.T) {
	readings := &fakeReadings{}
	addCrossing(readings, 2024, 100, 200)
	readings.add(2025, time.March, 1, 80)

	cultivars := newFakeCultivars(&types.Cultivar{Name: "Unknown"})
	p := NewProjector(readings, cultivars, newFakeTraining(), 14, testLogger(),
		fixedClock(2025, time.March, 1))

	m := &Model{Bias: 50, LearningRate: 0.1, NumFeatures: numFeatures}
	require.NoError(t, p.ProjectLearned(context.Background(), m))
	assert.Empty(t, cultivars.model)
}

func TestWalkCurve(t *testing.T) {
	curve := map[int]float64{}
	for d := 1; d <= 366; d++ {
		curve[d] = 2.0
	}

	assert.Equal(t, 10, walkCurve(curve, 60, 20))
	assert.Equal(t, 0, walkCurve(curve, 60, 0))

	// A dead curve still advances by the minimal step.
	assert.Equal(t, 10, walkCurve(map[int]float64{}, 60, 1))

	// The horizon is capped at a year.
	assert.Equal(t, 365, walkCurve(map[int]float64{}, 1, 1000))
}
