package benchmarks

import (
	"testing"
	"time"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/altitude"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/display"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/geometry"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/projection"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/reconcile"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/region"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/track"
)

func BenchmarkProject(b *testing.B) {
	fix := generateFix(7)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		projection.Project(fix, benchNow)
	}
}

func BenchmarkSegments1000(b *testing.B) {
	points := generateHistory(1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		track.Segments(points, altitude.Dark)
	}
}

func BenchmarkGeometryDecode(b *testing.B) {
	raw := generateRegions(1)[0].Geometry
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		geometry.Decode(raw)
	}
}

func BenchmarkRegionShapesCached(b *testing.B) {
	regions := generateRegions(100)
	set := region.NewSet(256, time.Hour, nil)
	set.Shapes(regions)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		set.Shapes(regions)
	}
}

func BenchmarkReduce(b *testing.B) {
	c := generateCycle(1, 500, 100, 20)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reconcile.Reduce(nil, c)
	}
}

func BenchmarkStoreApply(b *testing.B) {
	store := reconcile.NewStore()
	c := generateCycle(0, 200, 50, 10)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Seq = uint64(i + 1)
		store.Apply(c)
	}
}

func BenchmarkBuildFrame(b *testing.B) {
	st := reconcile.Reduce(nil, generateCycle(1, 200, 200, 30))
	set := region.NewSet(256, time.Hour, nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		display.Build(st, set, benchNow, altitude.Light)
	}
}

func BenchmarkBuildFrameParallel(b *testing.B) {
	st := reconcile.Reduce(nil, generateCycle(1, 200, 200, 30))
	set := region.NewSet(256, time.Hour, nil)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			display.Build(st, set, benchNow, altitude.Dark)
		}
	})
}
