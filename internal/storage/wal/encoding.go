package wal

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/xtxerr/catwatch/internal/types"
)

// Reading encoding format (binary, little-endian):
// - TimestampNs (8 bytes, Unix nanoseconds)
// - COIn, COOut, Efficiency, PredictedEfficiency,
//   Voltage, Current, Power (7 x 8 bytes, float64)
// - Anomaly (1 byte, bool)
// - Recommendation length (2 bytes) + Recommendation string
// - Profile length (2 bytes) + Profile string

const fixedReadingSize = 8 + 7*8 + 1

// encodeReadings encodes a slice of readings into a binary format.
func encodeReadings(readings []types.Reading) ([]byte, error) {
	if len(readings) == 0 {
		return nil, nil
	}

	buf := make([]byte, 0, len(readings)*(fixedReadingSize+32))

	// Write reading count
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(readings)))

	for i := range readings {
		r := &readings[i]

		if len(r.Recommendation) > math.MaxUint16 || len(r.Profile) > math.MaxUint16 {
			return nil, fmt.Errorf("reading %d: string field too long", i)
		}

		buf = binary.LittleEndian.AppendUint64(buf, uint64(r.Timestamp.UnixNano()))
		buf = appendFloat(buf, r.COIn)
		buf = appendFloat(buf, r.COOut)
		buf = appendFloat(buf, r.Efficiency)
		buf = appendFloat(buf, r.PredictedEfficiency)
		buf = appendFloat(buf, r.Voltage)
		buf = appendFloat(buf, r.Current)
		buf = appendFloat(buf, r.Power)
		if r.Anomaly {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = appendString(buf, r.Recommendation)
		buf = appendString(buf, r.Profile)
	}

	return buf, nil
}

// decodeReadings decodes a binary format into a slice of readings.
func decodeReadings(data []byte) ([]types.Reading, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("data too short for reading count")
	}

	count := int(binary.LittleEndian.Uint32(data[0:4]))
	if count == 0 {
		return nil, nil
	}
	if count > (len(data)-4)/fixedReadingSize {
		return nil, fmt.Errorf("reading count %d exceeds payload", count)
	}

	readings := make([]types.Reading, count)
	offset := 4

	for i := 0; i < count; i++ {
		var r types.Reading
		var err error

		if offset+fixedReadingSize > len(data) {
			return nil, fmt.Errorf("reading %d: data too short", i)
		}

		r.Timestamp = time.Unix(0, int64(binary.LittleEndian.Uint64(data[offset:]))).UTC()
		offset += 8

		for _, dst := range []*float64{
			&r.COIn, &r.COOut, &r.Efficiency, &r.PredictedEfficiency,
			&r.Voltage, &r.Current, &r.Power,
		} {
			*dst = math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
			offset += 8
		}

		r.Anomaly = data[offset] == 1
		offset++

		r.Recommendation, offset, err = readString(data, offset)
		if err != nil {
			return nil, fmt.Errorf("reading %d recommendation: %w", i, err)
		}

		r.Profile, offset, err = readString(data, offset)
		if err != nil {
			return nil, fmt.Errorf("reading %d profile: %w", i, err)
		}

		readings[i] = r
	}

	return readings, nil
}

func appendFloat(buf []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
}

// appendString appends a length-prefixed string to the buffer.
func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// readString reads a length-prefixed string from the buffer.
func readString(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", offset, fmt.Errorf("data too short for string length")
	}

	length := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	if offset+length > len(data) {
		return "", offset, fmt.Errorf("data too short for string content")
	}

	s := string(data[offset : offset+length])
	return s, offset + length, nil
}
