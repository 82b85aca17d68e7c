// Package telemetry decodes binary FIT activity files into the per-second
// streams and summary aggregates the canonical store carries.
package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/muktihari/fit/decoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/twpayne/go-polyline"
)

// FIT sentinel values for absent fields
const (
	invalidUint8  = 0xFF
	invalidUint16 = 0xFFFF
	invalidUint32 = 0xFFFFFFFF
	invalidSint32 = 0x7FFFFFFF

	// semicircles to degrees: 2^31 / 180
	semicircleDegrees = 11930464.7111
)

// Summary is the normalized result of decoding one FIT file
type Summary struct {
	StartTime      int64
	ElapsedSeconds int64
	MovingSeconds  *int64
	DistanceM      *float64
	ElevationGainM *float64
	AvgWatts       *float64
	MaxWatts       *float64
	AvgHeartRate   *float64
	MaxHeartRate   *float64
	Polyline       *string
	StreamsJSON    *string
}

// Streams is the per-record series layout stored as streams_json. Slices
// are index-aligned; absent samples carry -1.
type Streams struct {
	TimeOffsets []int64   `json:"time"`
	Watts       []int     `json:"watts,omitempty"`
	HeartRate   []int     `json:"heart_rate,omitempty"`
	Cadence     []int     `json:"cadence,omitempty"`
	SpeedMps    []float64 `json:"speed,omitempty"`
	AltitudeM   []float64 `json:"altitude,omitempty"`
	DistanceM   []float64 `json:"distance,omitempty"`
}

// record is one decoded FIT record message, sentinels already resolved
type record struct {
	offset    int64
	heartRate int
	power     int
	cadence   int
	speed     float64
	altitude  float64
	distance  float64
	lat       float64
	lng       float64
	hasPos    bool
	hasAlt    bool
}

// Parse decodes a FIT file into a Summary. Session-level aggregates win
// when the file carries them; otherwise they are computed from records.
func Parse(data []byte) (*Summary, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty FIT data")
	}

	dec := decoder.New(bytes.NewReader(data))

	var records []record
	var session *mesgdef.Session
	var startUnix int64

	for dec.Next() {
		fitData, err := dec.Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to decode FIT file: %w", err)
		}

		for i := range fitData.Messages {
			msg := &fitData.Messages[i]
			switch msg.Num {
			case typedef.MesgNumFileId:
				fileID := mesgdef.NewFileId(msg)
				if startUnix == 0 && !fileID.TimeCreated.IsZero() {
					startUnix = fileID.TimeCreated.UTC().Unix()
				}
			case typedef.MesgNumRecord:
				recordMsg := mesgdef.NewRecord(msg)
				if recordMsg.Timestamp.IsZero() {
					continue
				}
				if startUnix == 0 {
					startUnix = recordMsg.Timestamp.UTC().Unix()
				}
				records = append(records, parseRecord(recordMsg, startUnix))
			case typedef.MesgNumSession:
				if session == nil {
					session = mesgdef.NewSession(msg)
				}
			}
		}
	}

	if session == nil && len(records) == 0 {
		return nil, fmt.Errorf("no session or records in FIT file")
	}

	summary := &Summary{StartTime: startUnix}

	if session != nil {
		if !session.StartTime.IsZero() {
			summary.StartTime = session.StartTime.UTC().Unix()
		}
		if session.TotalElapsedTime != invalidUint32 {
			summary.ElapsedSeconds = int64(session.TotalElapsedTime / 1000)
		}
		if session.TotalTimerTime != invalidUint32 {
			moving := int64(session.TotalTimerTime / 1000)
			summary.MovingSeconds = &moving
		}
		if session.TotalDistance != invalidUint32 {
			d := float64(session.TotalDistance) / 100
			summary.DistanceM = &d
		}
		if session.TotalAscent != invalidUint16 {
			a := float64(session.TotalAscent)
			summary.ElevationGainM = &a
		}
		if session.AvgPower != invalidUint16 {
			w := float64(session.AvgPower)
			summary.AvgWatts = &w
		}
		if session.MaxPower != invalidUint16 {
			w := float64(session.MaxPower)
			summary.MaxWatts = &w
		}
		if session.AvgHeartRate != invalidUint8 {
			hr := float64(session.AvgHeartRate)
			summary.AvgHeartRate = &hr
		}
		if session.MaxHeartRate != invalidUint8 {
			hr := float64(session.MaxHeartRate)
			summary.MaxHeartRate = &hr
		}
	}

	fillFromRecords(summary, records)

	return summary, nil
}

func parseRecord(msg *mesgdef.Record, startUnix int64) record {
	r := record{
		offset:    msg.Timestamp.UTC().Unix() - startUnix,
		heartRate: -1,
		power:     -1,
		cadence:   -1,
		speed:     -1,
		altitude:  math.NaN(),
		distance:  -1,
	}

	if msg.HeartRate != invalidUint8 {
		r.heartRate = int(msg.HeartRate)
	}
	if msg.Power != invalidUint16 {
		r.power = int(msg.Power)
	}
	if msg.Cadence != invalidUint8 {
		r.cadence = int(msg.Cadence)
	}
	if msg.Speed != invalidUint16 {
		// mm/s to m/s
		r.speed = float64(msg.Speed) / 1000
	}
	if msg.Altitude != invalidUint16 {
		// FIT altitude scale: 5 * (altitude + 500)
		r.altitude = float64(msg.Altitude)/5 - 500
		r.hasAlt = true
	}
	if msg.Distance != invalidUint32 {
		// cm to m
		r.distance = float64(msg.Distance) / 100
	}
	if msg.PositionLat != invalidSint32 && msg.PositionLong != invalidSint32 {
		r.lat = float64(msg.PositionLat) / semicircleDegrees
		r.lng = float64(msg.PositionLong) / semicircleDegrees
		r.hasPos = true
	}

	return r
}

// fillFromRecords computes streams, the polyline, and any aggregates the
// session message did not carry.
func fillFromRecords(summary *Summary, records []record) {
	if len(records) == 0 {
		return
	}

	streams := Streams{}
	var coords [][]float64
	var powerSum, powerCount, maxPower int
	var hrSum, hrCount, maxHR int
	var ascent float64
	var lastAlt float64
	var haveLastAlt bool
	var lastDistance float64

	hasPower, hasHR, hasCadence, hasSpeed, hasAlt, hasDistance := false, false, false, false, false, false
	for _, r := range records {
		if r.power >= 0 {
			hasPower = true
		}
		if r.heartRate >= 0 {
			hasHR = true
		}
		if r.cadence >= 0 {
			hasCadence = true
		}
		if r.speed >= 0 {
			hasSpeed = true
		}
		if r.hasAlt {
			hasAlt = true
		}
		if r.distance >= 0 {
			hasDistance = true
		}
	}

	for _, r := range records {
		streams.TimeOffsets = append(streams.TimeOffsets, r.offset)
		if hasPower {
			streams.Watts = append(streams.Watts, r.power)
		}
		if hasHR {
			streams.HeartRate = append(streams.HeartRate, r.heartRate)
		}
		if hasCadence {
			streams.Cadence = append(streams.Cadence, r.cadence)
		}
		if hasSpeed {
			streams.SpeedMps = append(streams.SpeedMps, r.speed)
		}
		if hasAlt {
			alt := r.altitude
			if !r.hasAlt {
				alt = -1
			}
			streams.AltitudeM = append(streams.AltitudeM, alt)
		}
		if hasDistance {
			streams.DistanceM = append(streams.DistanceM, r.distance)
		}

		if r.power >= 0 {
			powerSum += r.power
			powerCount++
			if r.power > maxPower {
				maxPower = r.power
			}
		}
		if r.heartRate >= 0 {
			hrSum += r.heartRate
			hrCount++
			if r.heartRate > maxHR {
				maxHR = r.heartRate
			}
		}
		if r.hasAlt {
			if haveLastAlt && r.altitude > lastAlt {
				ascent += r.altitude - lastAlt
			}
			lastAlt = r.altitude
			haveLastAlt = true
		}
		if r.distance >= 0 {
			lastDistance = r.distance
		}
		if r.hasPos {
			coords = append(coords, []float64{r.lat, r.lng})
		}
	}

	if streamsJSON, err := json.Marshal(streams); err == nil {
		s := string(streamsJSON)
		summary.StreamsJSON = &s
	}

	if len(coords) > 0 {
		encoded := string(polyline.EncodeCoords(coords))
		summary.Polyline = &encoded
	}

	if summary.ElapsedSeconds == 0 {
		summary.ElapsedSeconds = records[len(records)-1].offset - records[0].offset
	}
	if summary.DistanceM == nil && hasDistance && lastDistance > 0 {
		summary.DistanceM = &lastDistance
	}
	if summary.ElevationGainM == nil && hasAlt && ascent > 0 {
		summary.ElevationGainM = &ascent
	}
	if summary.AvgWatts == nil && powerCount > 0 {
		avg := float64(powerSum) / float64(powerCount)
		summary.AvgWatts = &avg
	}
	if summary.MaxWatts == nil && powerCount > 0 {
		w := float64(maxPower)
		summary.MaxWatts = &w
	}
	if summary.AvgHeartRate == nil && hrCount > 0 {
		avg := float64(hrSum) / float64(hrCount)
		summary.AvgHeartRate = &avg
	}
	if summary.MaxHeartRate == nil && hrCount > 0 {
		hr := float64(maxHR)
		summary.MaxHeartRate = &hr
	}
}
