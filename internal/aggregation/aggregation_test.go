// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package aggregation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lulzzz/aika/pkg/schema"
)

var epoch = time.Date(2023, 5, 4, 12, 0, 0, 0, time.UTC)

func numAt(sec int, value float64) schema.TagValue {
	return schema.NewNumericValue(epoch.Add(time.Duration(sec)*time.Second), value, schema.QualityGood, "")
}

func at(sec int) time.Time {
	return epoch.Add(time.Duration(sec) * time.Second)
}

func TestSupports(t *testing.T) {
	assert.True(t, Supports(schema.FnInterp))
	assert.True(t, Supports(schema.FnAvg))
	assert.False(t, Supports("MEDIAN"))
}

func TestInterpLinear(t *testing.T) {
	raw := []schema.TagValue{numAt(0, 0), numAt(10, 100)}

	series := Process(schema.FnInterp, raw, at(0), at(10), 5*time.Second, false)
	require.Equal(t, schema.HintInterpolated, series.Hint)
	require.Len(t, series.Values, 3)
	assert.Equal(t, schema.Float(0), series.Values[0].Value)
	assert.Equal(t, schema.Float(50), series.Values[1].Value)
	assert.Equal(t, schema.Float(100), series.Values[2].Value)
}

func TestInterpQualityDegrades(t *testing.T) {
	raw := []schema.TagValue{
		numAt(0, 0),
		schema.NewNumericValue(at(10), 100, schema.QualityUncertain, ""),
	}

	series := Process(schema.FnInterp, raw, at(5), at(5), 5*time.Second, false)
	require.Len(t, series.Values, 1)
	assert.Equal(t, schema.QualityUncertain, series.Values[0].Quality)
}

func TestInterpSkipsUncoveredBoundaries(t *testing.T) {
	raw := []schema.TagValue{numAt(10, 1), numAt(20, 2)}

	// No sample before t=10 and none after t=20.
	series := Process(schema.FnInterp, raw, at(0), at(30), 10*time.Second, false)
	require.Len(t, series.Values, 2)
	assert.True(t, series.Values[0].Time.Equal(at(10)))
	assert.True(t, series.Values[1].Time.Equal(at(20)))
}

func TestAvgTimeWeighted(t *testing.T) {
	// 10 for the first half of the bucket, 20 for the second.
	raw := []schema.TagValue{numAt(0, 10), numAt(5, 20)}

	series := Process(schema.FnAvg, raw, at(10), at(10), 10*time.Second, false)
	require.Equal(t, schema.HintTrailingEdge, series.Hint)
	require.Len(t, series.Values, 1)
	assert.InDelta(t, 15.0, float64(series.Values[0].Value), 1e-9)
	assert.True(t, series.Values[0].Time.Equal(at(10)), "stamped at the trailing edge")
}

func TestAvgSkipsNonNumericStretches(t *testing.T) {
	raw := []schema.TagValue{
		numAt(0, 10),
		schema.NewTextValue(at(5), "offline", schema.QualityBad),
	}

	// Only the numeric first half carries weight.
	series := Process(schema.FnAvg, raw, at(10), at(10), 10*time.Second, false)
	require.Len(t, series.Values, 1)
	assert.InDelta(t, 10.0, float64(series.Values[0].Value), 1e-9)
}

func TestMinMaxBuckets(t *testing.T) {
	raw := []schema.TagValue{numAt(1, 5), numAt(4, -3), numAt(8, 7)}

	min := Process(schema.FnMin, raw, at(5), at(10), 5*time.Second, false)
	require.Len(t, min.Values, 2)
	assert.Equal(t, schema.Float(-3), min.Values[0].Value)
	assert.Equal(t, schema.Float(7), min.Values[1].Value)

	max := Process(schema.FnMax, raw, at(5), at(10), 5*time.Second, false)
	assert.Equal(t, schema.Float(5), max.Values[0].Value)
	assert.Equal(t, schema.Float(7), max.Values[1].Value)
}

func TestMinEmptyBucketCarriesForward(t *testing.T) {
	raw := []schema.TagValue{numAt(0, 42)}

	series := Process(schema.FnMin, raw, at(10), at(10), 5*time.Second, false)
	require.Len(t, series.Values, 1)
	assert.Equal(t, schema.Float(42), series.Values[0].Value)
}

func TestPlotEmitsExtremes(t *testing.T) {
	raw := []schema.TagValue{
		numAt(1, 1), numAt(2, 9), numAt(3, -4), numAt(4, 2),
	}

	series := Process(schema.FnPlot, raw, at(0), at(5), 5*time.Second, false)
	require.Equal(t, schema.HintInterpolated, series.Hint)
	// Open, close, min and max of the single bucket, deduplicated.
	require.Len(t, series.Values, 4)
	assert.True(t, series.Values[0].Equals(numAt(1, 1)))
	assert.True(t, series.Values[1].Equals(numAt(2, 9)))
	assert.True(t, series.Values[2].Equals(numAt(3, -4)))
	assert.True(t, series.Values[3].Equals(numAt(4, 2)))
}

func TestStateTagTrailingEdgeFallback(t *testing.T) {
	on := schema.TagValue{Time: at(2), Value: schema.Float(1), Text: "ON", Quality: schema.QualityGood}
	off := schema.TagValue{Time: at(7), Value: schema.Float(0), Text: "OFF", Quality: schema.QualityGood}
	raw := []schema.TagValue{on, off}

	series := Process(schema.FnAvg, raw, at(5), at(15), 5*time.Second, true)
	require.Equal(t, schema.HintTrailingEdge, series.Hint)
	require.Len(t, series.Values, 3)
	assert.Equal(t, "ON", series.Values[0].Text)
	assert.Equal(t, "OFF", series.Values[1].Text)
	assert.Equal(t, "OFF", series.Values[2].Text, "empty bucket reports the persisting state")
}

func TestProcessRejectsBadRange(t *testing.T) {
	series := Process(schema.FnAvg, nil, at(10), at(0), time.Second, false)
	assert.Empty(t, series.Values)
}
