// Package region turns regions of interest into styled, renderable shapes.
package region

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"golang.org/x/text/cases"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/geometry"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/logging"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/metrics"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/pkg/models"
)

const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 30 * time.Minute
)

// ---------------------------------------------------------------------------
// Styles
// ---------------------------------------------------------------------------

// Style is the Leaflet path style of a region overlay.
type Style struct {
	Color       string  `json:"color"`
	Weight      int     `json:"weight"`
	FillOpacity float64 `json:"fillOpacity"`
	FillColor   string  `json:"fillColor"`
	ZIndex      int     `json:"zIndex,omitempty"`
}

var styles = map[string]Style{
	"fire": {
		Color:       "#ff9100",
		Weight:      5,
		FillOpacity: 0.25,
		FillColor:   "#aa7400",
		ZIndex:      9999,
	},
	"training": {
		Color:       "#16a10a",
		Weight:      5,
		FillOpacity: 0.25,
		FillColor:   "#00aa1c",
		ZIndex:      9999,
	},
}

// DefaultStyle applies to classifications without a dedicated style.
var DefaultStyle = Style{
	Color:       "#3b82f6",
	Weight:      2,
	FillOpacity: 0.1,
	FillColor:   "#3b82f6",
}

// StyleFor returns the style of a classification tag. Matching ignores case
// and surrounding space.
func StyleFor(classification string) Style {
	// Casers carry state and must not be shared across goroutines.
	key := cases.Fold().String(strings.TrimSpace(classification))
	if s, ok := styles[key]; ok {
		return s
	}
	return DefaultStyle
}

// ---------------------------------------------------------------------------
// Shapes
// ---------------------------------------------------------------------------

// Shape is a decoded, styled region ready to draw.
type Shape struct {
	ID             models.RegionID `json:"id"`
	Name           string          `json:"name"`
	Classification string          `json:"classification"`
	Ring           geometry.Ring   `json:"ring"`
	Style          Style           `json:"style"`
}

// Polygon returns the shape as a closed orb polygon in [lon, lat] order.
func (s Shape) Polygon() orb.Polygon {
	ring := make(orb.Ring, 0, len(s.Ring)+1)
	for _, p := range s.Ring {
		ring = append(ring, orb.Point{p.Lon(), p.Lat()})
	}
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}

// Contains reports whether the position lies inside the shape.
func (s Shape) Contains(lat, lon float64) bool {
	if len(s.Ring) < 3 {
		return false
	}
	return planar.PolygonContains(s.Polygon(), orb.Point{lon, lat})
}

// Set decodes region geometries and remembers the results. Geometry strings
// rarely change between polls, so decoding is cached by id and raw bytes.
type Set struct {
	cache *expirable.LRU[string, geometry.Result]
	log   *logging.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewSet creates a Set whose cache holds size entries for ttl.
func NewSet(size int, ttl time.Duration, log *logging.Logger) *Set {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Set{
		cache: expirable.NewLRU[string, geometry.Result](size, nil, ttl),
		log:   log,
	}
}

// Shapes returns the level-2 regions whose geometry decodes, styled by
// classification, in input order. Regions that fail to decode are dropped.
// A nil Set decodes without caching.
func (s *Set) Shapes(regions []models.RegionOfInterest) []Shape {
	shapes := make([]Shape, 0, len(regions))
	for _, r := range regions {
		if r.Level != models.ActiveRegionLevel {
			continue
		}
		res := s.decode(r)
		if !res.OK() {
			continue
		}
		shapes = append(shapes, Shape{
			ID:             r.ID,
			Name:           r.Name,
			Classification: r.Classification,
			Ring:           res.Ring,
			Style:          StyleFor(r.Classification),
		})
	}
	return shapes
}

// CacheStats returns decode cache hits and misses.
func (s *Set) CacheStats() (hits, misses int64) {
	if s == nil {
		return 0, 0
	}
	return s.hits.Load(), s.misses.Load()
}

// Purge drops every cached decode.
func (s *Set) Purge() {
	if s == nil {
		return
	}
	s.cache.Purge()
}

func (s *Set) decode(r models.RegionOfInterest) geometry.Result {
	if s == nil {
		return geometry.Decode(r.Geometry)
	}
	key := string(r.ID) + "\x00" + string(r.Geometry)
	if res, ok := s.cache.Get(key); ok {
		s.hits.Add(1)
		return res
	}
	s.misses.Add(1)

	res := geometry.Decode(r.Geometry)
	if !res.OK() {
		metrics.RegionDecodeError.Inc()
		s.log.Warn("dropping region with bad geometry", "id", string(r.ID), "name", r.Name, "error", res.Err)
	}
	s.cache.Add(key, res)
	return res
}

// ---------------------------------------------------------------------------
// GeoJSON
// ---------------------------------------------------------------------------

// FeatureCollection exports shapes as GeoJSON polygons with name,
// classification and style properties.
func FeatureCollection(shapes []Shape) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, sh := range shapes {
		poly := sh.Polygon()
		f := geojson.NewFeature(poly)
		f.ID = string(sh.ID)
		f.BBox = geojson.NewBBox(poly.Bound())
		f.Properties["name"] = sh.Name
		f.Properties["classification"] = sh.Classification
		f.Properties["style"] = sh.Style
		fc.Append(f)
	}
	return fc
}
