package telemetry

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeRideFile builds a small cycling FIT file: n records one second
// apart with power, heart rate, GPS, and altitude, closed by a session.
func encodeRideFile(t *testing.T, start time.Time, n int) []byte {
	t.Helper()

	fit := &proto.FIT{}

	fileID := mesgdef.NewFileId(nil).
		SetType(typedef.FileActivity).
		SetManufacturer(typedef.ManufacturerDevelopment).
		SetProduct(1).
		SetTimeCreated(start)
	fit.Messages = append(fit.Messages, fileID.ToMesg(nil))

	const semicircleDegrees = 11930464.7111
	for i := 0; i < n; i++ {
		lat := 51.50 + float64(i)*0.0001
		lng := -0.12 + float64(i)*0.0001
		record := mesgdef.NewRecord(nil).
			SetTimestamp(start.Add(time.Duration(i) * time.Second)).
			SetHeartRate(uint8(130 + i)).
			SetPower(uint16(200 + 10*i)).
			SetCadence(90).
			SetSpeed(uint16(8000)).
			SetDistance(uint32(i * 800)).
			SetAltitude(uint16((float64(i) + 500) * 5)).
			SetPositionLat(int32(lat * semicircleDegrees)).
			SetPositionLong(int32(lng * semicircleDegrees))
		fit.Messages = append(fit.Messages, record.ToMesg(nil))
	}

	session := mesgdef.NewSession(nil).
		SetTimestamp(start.Add(time.Duration(n) * time.Second)).
		SetStartTime(start).
		SetSport(typedef.SportCycling).
		SetTotalElapsedTime(uint32(n * 1000)).
		SetTotalTimerTime(uint32(n * 1000)).
		SetTotalDistance(uint32((n - 1) * 800)).
		SetAvgPower(uint16(220)).
		SetMaxPower(uint16(200 + 10*(n-1))).
		SetAvgHeartRate(uint8(132)).
		SetMaxHeartRate(uint8(130 + n - 1))
	fit.Messages = append(fit.Messages, session.ToMesg(nil))

	var buf bytes.Buffer
	enc := encoder.New(&buf)
	require.NoError(t, enc.Encode(fit))
	return buf.Bytes()
}

func TestParse(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	data := encodeRideFile(t, start, 5)

	summary, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, start.Unix(), summary.StartTime)
	assert.Equal(t, int64(5), summary.ElapsedSeconds)
	require.NotNil(t, summary.MovingSeconds)
	assert.Equal(t, int64(5), *summary.MovingSeconds)
	require.NotNil(t, summary.DistanceM)
	assert.InDelta(t, 32.0, *summary.DistanceM, 0.01)
	require.NotNil(t, summary.AvgWatts)
	assert.Equal(t, 220.0, *summary.AvgWatts)
	require.NotNil(t, summary.MaxWatts)
	assert.Equal(t, 240.0, *summary.MaxWatts)
	require.NotNil(t, summary.AvgHeartRate)
	assert.Equal(t, 132.0, *summary.AvgHeartRate)
	require.NotNil(t, summary.MaxHeartRate)
	assert.Equal(t, 134.0, *summary.MaxHeartRate)
	require.NotNil(t, summary.Polyline)
	assert.NotEmpty(t, *summary.Polyline)

	require.NotNil(t, summary.StreamsJSON)
	var streams Streams
	require.NoError(t, json.Unmarshal([]byte(*summary.StreamsJSON), &streams))
	require.Len(t, streams.TimeOffsets, 5)
	assert.Equal(t, int64(0), streams.TimeOffsets[0])
	assert.Equal(t, int64(4), streams.TimeOffsets[4])
	require.Len(t, streams.Watts, 5)
	assert.Equal(t, 200, streams.Watts[0])
	assert.Equal(t, 240, streams.Watts[4])
	require.Len(t, streams.HeartRate, 5)
	assert.Equal(t, 130, streams.HeartRate[0])
	require.Len(t, streams.SpeedMps, 5)
	assert.InDelta(t, 8.0, streams.SpeedMps[0], 0.001)
	require.Len(t, streams.AltitudeM, 5)
	assert.InDelta(t, 0.0, streams.AltitudeM[0], 0.3)
	assert.InDelta(t, 4.0, streams.AltitudeM[4], 0.3)
}

func TestParseComputesAggregatesWithoutSession(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	fit := &proto.FIT{}
	fileID := mesgdef.NewFileId(nil).
		SetType(typedef.FileActivity).
		SetManufacturer(typedef.ManufacturerDevelopment).
		SetProduct(1).
		SetTimeCreated(start)
	fit.Messages = append(fit.Messages, fileID.ToMesg(nil))

	for i := 0; i < 3; i++ {
		record := mesgdef.NewRecord(nil).
			SetTimestamp(start.Add(time.Duration(i) * time.Second)).
			SetHeartRate(uint8(140 + i)).
			SetPower(uint16(100 * (i + 1)))
		fit.Messages = append(fit.Messages, record.ToMesg(nil))
	}

	var buf bytes.Buffer
	require.NoError(t, encoder.New(&buf).Encode(fit))

	summary, err := Parse(buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.ElapsedSeconds)
	require.NotNil(t, summary.AvgWatts)
	assert.Equal(t, 200.0, *summary.AvgWatts)
	require.NotNil(t, summary.MaxWatts)
	assert.Equal(t, 300.0, *summary.MaxWatts)
	require.NotNil(t, summary.MaxHeartRate)
	assert.Equal(t, 142.0, *summary.MaxHeartRate)
	assert.Nil(t, summary.DistanceM)
	assert.Nil(t, summary.Polyline)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse(nil)
	assert.Error(t, err)

	_, err = Parse([]byte("definitely not a fit file"))
	assert.Error(t, err)
}
