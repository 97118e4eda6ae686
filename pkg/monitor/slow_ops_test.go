package monitor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlowOperationLog_IsSlow(t *testing.T) {
	log := NewSlowOperationLog(time.Second, 10)

	tests := []struct {
		name     string
		duration time.Duration
		expected bool
	}{
		{"Fast", 500 * time.Millisecond, false},
		{"At threshold", time.Second, true},
		{"Slow", 2 * time.Second, true},
		{"Zero", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, log.IsSlow(tt.duration))
		})
	}
}

func TestSlowOperationLog_Record(t *testing.T) {
	log := NewSlowOperationLog(time.Second, 10)

	assert.Zero(t, log.Record(SlowOperation{Operation: "Query", Duration: time.Millisecond}))

	id := log.Record(SlowOperation{Operation: "Query", DataSet: "parcels", Duration: 2 * time.Second, RowCount: 7})
	require.Equal(t, int64(1), id)

	e, ok := log.Get(id)
	require.True(t, ok)
	assert.Equal(t, "parcels", e.DataSet)
	assert.Equal(t, int64(7), e.RowCount)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, 1, log.Len())
}

func TestSlowOperationLog_Eviction(t *testing.T) {
	log := NewSlowOperationLog(0, 3)
	for i := 0; i < 5; i++ {
		log.Record(SlowOperation{Operation: fmt.Sprintf("op%d", i), Duration: time.Duration(i+1) * time.Millisecond})
	}

	assert.Equal(t, 3, log.Len())
	_, ok := log.Get(1)
	assert.False(t, ok)

	all := log.All()
	require.Len(t, all, 3)
	assert.Equal(t, "op2", all[0].Operation)
	assert.Equal(t, "op4", all[2].Operation)

	recent := log.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "op4", recent[0].Operation)
	assert.Equal(t, "op3", recent[1].Operation)
	assert.Len(t, log.Recent(0), 3)
}

func TestSlowOperationLog_Filters(t *testing.T) {
	log := NewSlowOperationLog(0, 10)
	old := time.Now().Add(-time.Hour)
	log.Record(SlowOperation{Operation: "GetDataSet", DataSet: "roads", Duration: time.Second, Timestamp: old})
	log.Record(SlowOperation{Operation: "GetDataSet", DataSet: "parcels", Duration: time.Second})
	log.Record(SlowOperation{Operation: "Query", DataSet: "roads", Duration: time.Second})

	assert.Len(t, log.ByDataSet("roads"), 2)
	assert.Len(t, log.ByDataSet("rivers"), 0)
	assert.Len(t, log.Since(time.Now().Add(-time.Minute)), 2)

	log.Clear()
	assert.Zero(t, log.Len())
	assert.Equal(t, int64(1), log.Record(SlowOperation{Duration: time.Second}))
}

func TestSlowOperationLog_Threshold(t *testing.T) {
	log := NewSlowOperationLog(time.Second, 10)
	log.SetThreshold(10 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, log.Threshold())
	assert.True(t, log.IsSlow(20*time.Millisecond))
}

func TestSlowOperationLog_Analyze(t *testing.T) {
	log := NewSlowOperationLog(0, 100)
	assert.Zero(t, log.Analyze().Total)

	log.Record(SlowOperation{Operation: "Query", DataSet: "roads", Duration: 1 * time.Second})
	log.Record(SlowOperation{Operation: "Query", DataSet: "roads", Duration: 3 * time.Second, Error: "timeout"})
	log.Record(SlowOperation{Operation: "GetDataSet", DataSet: "parcels", Duration: 2 * time.Second})

	a := log.Analyze()
	assert.Equal(t, 3, a.Total)
	assert.Equal(t, 2*time.Second, a.AvgDuration)
	assert.Equal(t, 3*time.Second, a.MaxDuration)
	assert.Equal(t, 1*time.Second, a.MinDuration)
	assert.Equal(t, 1, a.ErrorCount)
	assert.Equal(t, 2, a.Operations["Query"])

	roads := a.DataSetStats["roads"]
	require.NotNil(t, roads)
	assert.Equal(t, 2, roads.Count)
	assert.Equal(t, 2*time.Second, roads.AvgDuration)
	assert.Equal(t, 3*time.Second, roads.MaxDuration)
}

func TestSlowOperationLog_Recommendations(t *testing.T) {
	log := NewSlowOperationLog(0, 100)
	for i := 0; i < 12; i++ {
		log.Record(SlowOperation{Operation: "GetDataSetByEnvelope", DataSet: "parcels", Duration: 2 * time.Second, Error: "x"})
	}

	recs := log.Recommendations()
	assert.Contains(t, recs, "数据集 parcels 有 12 条慢操作，建议为其几何属性建立空间索引")
	assert.Len(t, recs, 3)
}
