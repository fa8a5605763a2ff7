package geofence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// WebSentinel is the latitude value browser clients without GPS send.
const WebSentinel = "web"

// ErrInvalidCoordinate is returned for coordinates that are present but
// cannot be parsed or are out of range.
var ErrInvalidCoordinate = errors.New("invalid coordinates")

// Position is a client-reported location parsed once at ingress. Bypass
// is set when the client reported no GPS fix; Coord is then zero.
type Position struct {
	Coord  LatLng
	Bypass bool
}

// ParsePosition parses the raw JSON latitude/longitude values of a mark
// request. Values may be JSON numbers or numeric strings. A missing or
// null value, or the literal string "web", marks the position as a
// non-GPS client.
func ParsePosition(lat, lng json.RawMessage) (Position, error) {
	latV, latSentinel, err := parseDegree(lat)
	if err != nil {
		return Position{}, fmt.Errorf("latitude: %w", err)
	}
	lngV, lngSentinel, err := parseDegree(lng)
	if err != nil {
		return Position{}, fmt.Errorf("longitude: %w", err)
	}
	if latSentinel || lngSentinel {
		return Position{Bypass: true}, nil
	}
	coord := LatLng{Lat: latV, Lng: lngV}
	if !coord.Valid() {
		return Position{}, ErrInvalidCoordinate
	}
	return Position{Coord: coord}, nil
}

func parseDegree(raw json.RawMessage) (float64, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, true, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false, ErrInvalidCoordinate
		}
		s = strings.TrimSpace(s)
		if s == WebSentinel {
			return 0, true, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, ErrInvalidCoordinate
		}
		return v, false, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false, ErrInvalidCoordinate
	}
	return v, false, nil
}
