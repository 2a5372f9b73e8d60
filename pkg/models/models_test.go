package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Float
	}{
		{"number", `{"v": 12.5}`, Some(12.5)},
		{"zero", `{"v": 0}`, Some(0)},
		{"null", `{"v": null}`, None},
		{"absent", `{}`, None},
		{"string", `{"v": "abc"}`, None},
		{"numeric string", `{"v": "12"}`, None},
		{"bool", `{"v": true}`, None},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got struct {
				V Float `json:"v"`
			}
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &got))
			assert.Equal(t, tc.want, got.V)
		})
	}
}

func TestFloatMarshal(t *testing.T) {
	b, err := json.Marshal(struct {
		A Float `json:"a"`
		B Float `json:"b"`
	}{A: Some(1.5), B: None})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1.5, "b": null}`, string(b))
}

func TestAircraftFixDecodeTolerant(t *testing.T) {
	raw := `{
		"icao24": "3B7B70",
		"registration": "F-ZBEG",
		"last_lat": 43.7,
		"last_lon": "n/a",
		"true_track": 90,
		"speed_kph": null,
		"at_airfield": true,
		"last_timestamp": 1700000000
	}`

	var fix AircraftFix
	require.NoError(t, json.Unmarshal([]byte(raw), &fix))
	assert.Equal(t, "3B7B70", fix.ICAO24)
	assert.True(t, fix.Latitude.Valid)
	assert.False(t, fix.Longitude.Valid)
	assert.False(t, fix.HasPosition())
	assert.False(t, fix.SpeedKph.Valid)
	assert.True(t, fix.AtAirfield)
	assert.Equal(t, UnitUnknown, fix.TimestampUnit)
}

func TestRegionIDAcceptsNumbers(t *testing.T) {
	var regions []RegionOfInterest
	raw := `[{"id": 17, "name": "Fire A", "level": 2}, {"id": "roi-2", "name": "Zone B", "level": 1}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &regions))
	require.Len(t, regions, 2)
	assert.Equal(t, RegionID("17"), regions[0].ID)
	assert.Equal(t, RegionID("roi-2"), regions[1].ID)
}

func TestNormalizeICAO(t *testing.T) {
	assert.Equal(t, "3b7b70", NormalizeICAO("  3B7B70 "))
}

func TestTrailingWindow(t *testing.T) {
	now := time.Unix(1700003600, 0)
	w := TrailingWindow(now, time.Hour)
	assert.Equal(t, int64(1700000000), w.Start.Unix())
	assert.Equal(t, now, w.Stop)
}

func TestParseSelection(t *testing.T) {
	assert.Equal(t, SelectionAll, ParseSelection("all"))
	assert.Equal(t, SelectionAll, ParseSelection(" ALL "))
	assert.Equal(t, SelectionActive, ParseSelection("active"))
	assert.Equal(t, SelectionActive, ParseSelection(""))
	assert.Equal(t, SelectionActive, ParseSelection("bogus"))
}
