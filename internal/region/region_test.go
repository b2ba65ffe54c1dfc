package region

import (
	"ask4rent/internal/geo"
	"errors"
	"path/filepath"
	"testing"
)

func TestFromGeoIPDisabled(t *testing.T) {
	v, err := FromGeoIP("", "8.8.8.8", geo.DefaultRegion)
	if err != nil || v != geo.DefaultRegion {
		t.Fatalf("want fallback without error, got %+v %v", v, err)
	}
}

func TestFromGeoIPInvalidIP(t *testing.T) {
	v, err := FromGeoIP("/nonexistent.mmdb", "not-an-ip", geo.DefaultRegion)
	if !errors.Is(err, ErrInvalidIP) || v != geo.DefaultRegion {
		t.Fatalf("want ErrInvalidIP with fallback, got %+v %v", v, err)
	}
}

func TestFromGeoIPMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.mmdb")
	v, err := FromGeoIP(path, "203.0.113.5", geo.DefaultRegion)
	if err == nil {
		t.Fatalf("expected open error")
	}
	if v != geo.DefaultRegion {
		t.Fatalf("want fallback view, got %+v", v)
	}
}
