package models

import "testing"

func TestNewLocationKey_Rounding(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		wantLat  float64
		wantLon  float64
	}{
		{"oslo sample a", 59.91391, 10.75221, 59.91, 10.75},
		{"oslo sample b", 59.9141, 10.7523, 59.91, 10.75},
		{"negative", -33.86785, 151.20732, -33.87, 151.21},
		{"negative zero", -0.001, 0.001, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := NewLocationKey(tt.lat, tt.lon, nil)
			if k.Lat != tt.wantLat || k.Lon != tt.wantLon {
				t.Errorf("NewLocationKey(%v, %v) = %v, want %v,%v", tt.lat, tt.lon, k, tt.wantLat, tt.wantLon)
			}
		})
	}
}

func TestNewLocationKey_Idempotent(t *testing.T) {
	for _, c := range [][2]float64{{59.91391, 10.75221}, {60.39299, 5.32415}, {-12.345, -67.891}} {
		once := NewLocationKey(c[0], c[1], nil)
		twice := NewLocationKey(once.Lat, once.Lon, nil)
		if once != twice {
			t.Errorf("rounding not idempotent: %v -> %v", once, twice)
		}
	}
}

func TestLocationKey_String(t *testing.T) {
	alt := 120
	if got := NewLocationKey(59.91391, 10.75221, nil).String(); got != "59.91,10.75" {
		t.Errorf("String() = %q", got)
	}
	if got := NewLocationKey(59.91391, 10.75221, &alt).String(); got != "59.91,10.75@120" {
		t.Errorf("String() with altitude = %q", got)
	}
}
