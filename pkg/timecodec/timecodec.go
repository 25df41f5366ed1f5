// Package timecodec converts between the daemon's clock and the client's
// millisecond epoch.
//
// The daemon reports nanoseconds since 2001-01-01T00:00:00Z. Clients expect
// milliseconds since the Unix epoch. Conversions truncate toward zero so that
// a converted value can be used as a pagination cursor without stepping past
// a boundary record.
package timecodec

import (
	"encoding/json"
	"math"
	"math/big"
	"strconv"
	"strings"
)

const (
	// EpochOffsetMillis is the number of Unix milliseconds at 2001-01-01T00:00:00Z.
	EpochOffsetMillis int64 = 978307200000

	// UnitScale is the number of daemon units per client millisecond.
	UnitScale int64 = 1_000_000

	// UpstreamThreshold separates daemon-native values from client millis.
	// Values above it are treated as daemon units.
	UpstreamThreshold int64 = 10_000_000_000_000
)

var (
	bigScale  = big.NewInt(UnitScale)
	bigOffset = big.NewInt(EpochOffsetMillis)
	bigMaxI64 = big.NewInt(math.MaxInt64)
)

// FromUpstream converts daemon units to client millis without classifying
// the input. Division happens before the offset is added so no intermediate
// value grows past the input.
func FromUpstream(units int64) int64 {
	return units/UnitScale + EpochOffsetMillis
}

// ToUpstream converts client millis to daemon units. Moments before the
// daemon epoch clamp to zero and results past the int64 range saturate.
func ToUpstream(ms int64) int64 {
	delta := ms - EpochOffsetMillis
	if delta <= 0 {
		return 0
	}
	if delta > math.MaxInt64/UnitScale {
		return math.MaxInt64
	}
	return delta * UnitScale
}

// ToClientTime converts a raw timestamp of unknown provenance to client
// millis. It returns nil for missing, zero, negative, non-finite or
// non-numeric input and never panics.
func ToClientTime(raw any) *int64 {
	n, ok := toBigInt(raw)
	if !ok || n.Sign() <= 0 {
		return nil
	}
	if !n.IsInt64() {
		ms := new(big.Int).Quo(n, bigScale)
		ms.Add(ms, bigOffset)
		if ms.Cmp(bigMaxI64) > 0 {
			v := int64(math.MaxInt64)
			return &v
		}
		v := ms.Int64()
		return &v
	}
	v := n.Int64()
	if v > UpstreamThreshold {
		v = FromUpstream(v)
	}
	return &v
}

// ParseClientMillis parses a client-supplied millisecond query value.
func ParseClientMillis(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	}
	if v < 0 {
		return 0, false
	}
	return v, true
}

func toBigInt(raw any) (*big.Int, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, false
	case int:
		return big.NewInt(int64(v)), true
	case int32:
		return big.NewInt(int64(v)), true
	case int64:
		return big.NewInt(v), true
	case uint64:
		return new(big.Int).SetUint64(v), true
	case float64:
		return floatToBig(v)
	case float32:
		return floatToBig(float64(v))
	case json.Number:
		return stringToBig(v.String())
	case string:
		return stringToBig(v)
	case *big.Int:
		if v == nil {
			return nil, false
		}
		return new(big.Int).Set(v), true
	default:
		return nil, false
	}
}

func floatToBig(f float64) (*big.Int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	n, _ := new(big.Float).SetFloat64(math.Trunc(f)).Int(nil)
	return n, true
}

func stringToBig(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if n, ok := new(big.Int).SetString(s, 10); ok {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	return floatToBig(f)
}
