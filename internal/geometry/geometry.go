// Package geometry decodes region-of-interest geometries into polygon rings.
//
// Geometries arrive either as a JSON array of [lat, lon] pairs or as a JSON
// string that itself encodes such an array. Decoding never fails hard: the
// result carries either a ring or the reason there is none.
package geometry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmpty means the geometry was absent, null, or an empty list.
	ErrEmpty = errors.New("geometry: empty")
	// ErrSyntax means the geometry (or its string payload) was not valid JSON.
	ErrSyntax = errors.New("geometry: invalid json")
	// ErrShape means the JSON was valid but not a list of [lat, lon] pairs.
	ErrShape = errors.New("geometry: not a ring of [lat, lon] pairs")
)

// Point is a [lat, lon] pair in degrees.
type Point [2]float64

// Lat returns the latitude.
func (p Point) Lat() float64 { return p[0] }

// Lon returns the longitude.
func (p Point) Lon() float64 { return p[1] }

// Ring is an ordered, non-empty sequence of points.
type Ring []Point

// Result is the outcome of decoding one geometry: exactly one of Ring and
// Err is set.
type Result struct {
	Ring Ring
	Err  error
}

// OK reports whether a ring was decoded.
func (r Result) OK() bool {
	return r.Err == nil && len(r.Ring) > 0
}

func fail(err error) Result {
	return Result{Err: err}
}

// Decode parses a raw JSON geometry.
func Decode(raw json.RawMessage) Result {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fail(ErrEmpty)
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fail(fmt.Errorf("%w: %v", ErrSyntax, err))
		}
		return decodeString(s)
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrSyntax, err))
	}
	return fromValue(v)
}

// DecodeValue decodes a geometry that has already been unmarshalled into Go
// values: a string holding JSON, a []any from encoding/json, or a typed
// [][]float64 / []Point.
func DecodeValue(v any) Result {
	switch g := v.(type) {
	case nil:
		return fail(ErrEmpty)
	case string:
		return decodeString(g)
	case json.RawMessage:
		return Decode(g)
	case []byte:
		return Decode(g)
	case Ring:
		return validate(g)
	case []Point:
		return validate(Ring(g))
	case [][]float64:
		return fromFloatRows(g)
	default:
		return fromValue(v)
	}
}

func decodeString(s string) Result {
	b := bytes.TrimSpace([]byte(s))
	if len(b) == 0 {
		return fail(ErrEmpty)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrSyntax, err))
	}
	if _, nested := v.(string); nested {
		// A string that decodes to another string is not a ring.
		return fail(ErrShape)
	}
	return fromValue(v)
}

func fromValue(v any) Result {
	if v == nil {
		return fail(ErrEmpty)
	}
	rows, ok := v.([]any)
	if !ok {
		return fail(ErrShape)
	}
	if len(rows) == 0 {
		return fail(ErrEmpty)
	}

	ring := make(Ring, 0, len(rows))
	for i, row := range rows {
		pair, ok := row.([]any)
		if !ok || len(pair) != 2 {
			return fail(fmt.Errorf("%w: vertex %d", ErrShape, i))
		}
		lat, okLat := pair[0].(float64)
		lon, okLon := pair[1].(float64)
		if !okLat || !okLon {
			return fail(fmt.Errorf("%w: vertex %d is not numeric", ErrShape, i))
		}
		ring = append(ring, Point{lat, lon})
	}
	return validate(ring)
}

func fromFloatRows(rows [][]float64) Result {
	if len(rows) == 0 {
		return fail(ErrEmpty)
	}
	ring := make(Ring, 0, len(rows))
	for i, row := range rows {
		if len(row) != 2 {
			return fail(fmt.Errorf("%w: vertex %d", ErrShape, i))
		}
		ring = append(ring, Point{row[0], row[1]})
	}
	return validate(ring)
}

func validate(ring Ring) Result {
	if len(ring) == 0 {
		return fail(ErrEmpty)
	}
	for i, p := range ring {
		for _, c := range p {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return fail(fmt.Errorf("%w: vertex %d is not finite", ErrShape, i))
			}
		}
	}
	return Result{Ring: ring}
}
