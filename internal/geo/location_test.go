package geo

import (
	"math"
	"testing"
)

func TestDistanceSymmetry(t *testing.T) {
	a := Location{Lat: 40.4168, Long: -3.7038}
	b := Location{Lat: 40.4500, Long: -3.6900}

	dab := a.Distance(b)
	dba := b.Distance(a)
	if dab != dba {
		t.Errorf("distance not symmetric: %f != %f", dab, dba)
	}
	if dab <= 0 {
		t.Errorf("expected positive distance, got %f", dab)
	}
}

func TestDistanceIdentical(t *testing.T) {
	a := Location{Lat: 40.4168, Long: -3.7038}
	if d := a.Distance(a); d != 0 {
		t.Errorf("distance to self must be exactly 0, got %g", d)
	}
}

func TestDistanceClamping(t *testing.T) {
	// Two points close enough that the cosine term can exceed 1 by
	// rounding error.
	a := Location{Lat: 40.0, Long: -3.0}
	b := Location{Lat: 40.0, Long: -3.0 + 1e-14}
	d := a.Distance(b)
	if math.IsNaN(d) {
		t.Fatal("distance produced NaN")
	}
	if d < 0 {
		t.Errorf("negative distance %f", d)
	}

	// Antipodal points cap at half the circumference.
	c := Location{Lat: -40.0, Long: 177.0}
	max := math.Pi * 6371000.0
	if d := a.Distance(c); d > max+1 {
		t.Errorf("distance %f exceeds half circumference %f", d, max)
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// Madrid city center to a point roughly 1 degree of longitude away
	// at latitude 40: about 85 km.
	a := Location{Lat: 40.0, Long: -3.0}
	b := Location{Lat: 40.0, Long: -4.0}
	d := a.Distance(b)
	if d < 84000 || d > 86500 {
		t.Errorf("unexpected distance %f", d)
	}
}

func TestBoundingBoxContainsCircle(t *testing.T) {
	center := Location{Lat: 40.0, Long: -3.0}
	const radius = 500.0
	box := center.BoundingBox(radius)

	if !box.Contains(center) {
		t.Fatal("box does not contain its center")
	}

	// Points just inside the radius in the four cardinal directions
	// must fall inside the box.
	for _, p := range []Location{
		{Lat: 40.0 + 0.9*radius/6371000.0*180/math.Pi, Long: -3.0},
		{Lat: 40.0 - 0.9*radius/6371000.0*180/math.Pi, Long: -3.0},
	} {
		if !box.Contains(p) {
			t.Errorf("point %v within radius not contained", p)
		}
		if center.Distance(p) > radius {
			t.Errorf("test point %v outside radius", p)
		}
	}

	// A point clearly outside must not be contained.
	far := Location{Lat: 41.0, Long: -3.0}
	if box.Contains(far) {
		t.Error("box contains a point 100 km away")
	}
}

func TestBoundingBoxWidensWithLatitude(t *testing.T) {
	low := Location{Lat: 0.0, Long: 0.0}.BoundingBox(500)
	high := Location{Lat: 60.0, Long: 0.0}.BoundingBox(500)

	lowSpan := low.MaxLong - low.MinLong
	highSpan := high.MaxLong - high.MinLong
	if highSpan <= lowSpan {
		t.Errorf("longitude span should widen with latitude: %f <= %f", highSpan, lowSpan)
	}
}
