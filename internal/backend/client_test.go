package backend

import (
	"ask4rent/internal/geo"
	"ask4rent/internal/session"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestClient(t *testing.T, r chi.Router) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, Logger: quietLogger()})
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func TestCreateSessionStripsQuotes(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/onStartUpSession", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") == "" {
			t.Errorf("missing request id")
		}
		if r.Header.Get("User-Agent") != "ask4rent-client/1.0" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		_, _ = io.WriteString(w, "\"abc-123\"\n")
	})
	c := newTestClient(t, r)
	tok, err := c.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tok != "abc-123" {
		t.Fatalf("want abc-123, got %q", tok)
	}
}

func TestCreateSessionEmptyBody(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/onStartUpSession", func(w http.ResponseWriter, r *http.Request) {})
	c := newTestClient(t, r)
	if _, err := c.CreateSession(context.Background()); !errors.Is(err, ErrMalformed) {
		t.Fatalf("want ErrMalformed, got %v", err)
	}
}

func TestRenewSessionPassesToken(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Get("/onReflashSession", func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("session_id")
	})
	c := newTestClient(t, r)
	if err := c.RenewSession(context.Background(), "tok"); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if got != "tok" {
		t.Fatalf("session_id not forwarded: %q", got)
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		code    int
		session bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{440, true},
		{http.StatusInternalServerError, false},
		{http.StatusNotFound, false},
	}
	for _, tc := range cases {
		r := chi.NewRouter()
		code := tc.code
		r.Post("/query", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(code) })
		c := newTestClient(t, r)
		_, err := c.Query(context.Background(), "tok", "2 bedrooms")
		var se *StatusError
		if !errors.As(err, &se) || se.Code != tc.code {
			t.Fatalf("code %d: want StatusError, got %v", tc.code, err)
		}
		if errors.Is(err, ErrSessionInvalid) != tc.session {
			t.Fatalf("code %d: session classification wrong", tc.code)
		}
		if errors.Is(err, ErrTransport) == tc.session {
			t.Fatalf("code %d: transport classification wrong", tc.code)
		}
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	c := New(Options{BaseURL: base, Logger: quietLogger()})
	_, err := c.Query(context.Background(), "tok", "x")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}
}

func TestQueryShapes(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    int
		wantErr error
	}{
		{"array", `[{"id":"1","address":"1 Queen St","latitude":-36.85,"longitude":174.76,"rent_per_week":650}]`, 1, nil},
		{"wrapped", `{"properties":[{"listing_id":7,"lat":"-36.9","lng":"174.7"},{"address":"2 K Rd","location":{"lat":-36.86,"lon":174.75}}]}`, 2, nil},
		{"coordinates", `[{"id":"a","coordinates":[174.76,-36.85]}]`, 1, nil},
		{"null", `null`, 0, nil},
		{"empty", `[]`, 0, nil},
		{"partial", `[{"id":"1","lat":-36.85,"lng":174.76},{"id":"2"}]`, 1, nil},
		{"no location", `[{"id":"1"},{"id":"2"}]`, 0, ErrMalformed},
		{"html", `<html>oops</html>`, 0, ErrMalformed},
		{"object without list", `{"message":"hi"}`, 0, ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Post("/query", func(w http.ResponseWriter, r *http.Request) {
				var req map[string]string
				_ = json.NewDecoder(r.Body).Decode(&req)
				if req["session_id"] != "tok" || req["message"] != "near Grafton" {
					t.Errorf("unexpected request body %v", req)
				}
				writeJSON(w, tc.body)
			})
			c := newTestClient(t, r)
			ps, err := c.Query(context.Background(), "tok", "near Grafton")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("want %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(ps) != tc.want {
				t.Fatalf("want %d properties, got %d", tc.want, len(ps))
			}
		})
	}
}

func TestQueryFieldMapping(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/query", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `[{"listing_id":"L1","address":" 5 Ponsonby Rd ","price":"$720","beds":3,"baths":2,"parking":1,"type":"House","y":-36.85,"x":174.74}]`)
	})
	c := newTestClient(t, r)
	ps, err := c.Query(context.Background(), "tok", "q")
	if err != nil || len(ps) != 1 {
		t.Fatalf("query: %v %v", ps, err)
	}
	p := ps[0]
	if p.ID != "L1" || p.Address != "5 Ponsonby Rd" || p.RentPerWeek != 720 || p.Bedrooms != 3 || p.Bathrooms != 2 || p.Parking != 1 || p.PropertyType != "House" {
		t.Fatalf("unexpected mapping %+v", p)
	}
	if p.Location != (geo.Point{Lat: -36.85, Lng: 174.74}) {
		t.Fatalf("unexpected location %+v", p.Location)
	}
}

func TestTerritorialAuthoritiesCached(t *testing.T) {
	var hits int32
	r := chi.NewRouter()
	r.Get("/territorial_authorities", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, `[{"name":"Auckland Central","school_count":42,"lat":-36.85,"lon":174.76},{"name":"","lat":0,"lon":0}]`)
	})
	c := newTestClient(t, r)
	for i := 0; i < 2; i++ {
		tas, err := c.TerritorialAuthorities(context.Background(), "tok")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(tas) != 1 || tas[0].Name != "Auckland Central" || tas[0].SchoolCount != 42 {
			t.Fatalf("unexpected list %+v", tas)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("want one request, got %d", n)
	}

	c.OnSessionEvent(session.Event{Kind: session.EventLogin})
	_, _ = c.TerritorialAuthorities(context.Background(), "tok")
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("login should keep the cache, got %d requests", n)
	}
	c.OnSessionEvent(session.Event{Kind: session.EventReset})
	if _, err := c.TerritorialAuthorities(context.Background(), "tok-2"); err != nil {
		t.Fatalf("list after reset: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("reset should purge the cache, got %d requests", n)
	}
}

func TestSchoolsByTABoundary(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/schools_by_ta", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("ta_name") {
		case "With Zone":
			writeJSON(w, `{"schools":[{"name":"A","latitude":-36.85,"longitude":174.76}],"boundary":{"type":"Polygon","coordinates":[[[174.7,-36.9],[174.8,-36.9],[174.8,-36.8],[174.7,-36.9]]]}}`)
		default:
			writeJSON(w, `{"schools":[{"name":"B","location":{"lat":-36.8,"lng":174.7}}],"boundary":null}`)
		}
	})
	c := newTestClient(t, r)

	res, err := c.SchoolsByTA(context.Background(), "tok", "With Zone")
	if err != nil {
		t.Fatalf("schools: %v", err)
	}
	if len(res.Schools) != 1 || res.Boundary == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	zone, err := geo.Normalize(res.Boundary)
	if err != nil || zone.Empty() {
		t.Fatalf("boundary did not normalize: %v", err)
	}

	res, err = c.SchoolsByTA(context.Background(), "tok", "Plain")
	if err != nil {
		t.Fatalf("schools: %v", err)
	}
	if res.Boundary != nil {
		t.Fatalf("null boundary should be absent, got %s", res.Boundary)
	}
}

func TestRentalsBySchoolEmpty(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/rentals_by_school", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("school_name") != "Grafton Primary" {
			t.Errorf("unexpected school %q", r.URL.Query().Get("school_name"))
		}
		writeJSON(w, `{"rentals":[],"school_zone":"{\"type\":\"Polygon\",\"coordinates\":[[[174.7,-36.9],[174.8,-36.9],[174.8,-36.8],[174.7,-36.9]]]}"}`)
	})
	c := newTestClient(t, r)
	res, err := c.RentalsBySchool(context.Background(), "tok", "Grafton Primary")
	if err != nil {
		t.Fatalf("rentals: %v", err)
	}
	if len(res.Properties) != 0 {
		t.Fatalf("want empty rentals")
	}
	if zone, err := geo.Normalize(res.Boundary); err != nil || zone.Empty() {
		t.Fatalf("string-encoded zone did not normalize: %v", err)
	}
}

func TestIsochroneParamsAndCache(t *testing.T) {
	var hits int32
	r := chi.NewRouter()
	r.Get("/isochrone", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		q := r.URL.Query()
		if q.Get("lon") != "174.760000" || q.Get("lat") != "-36.850000" || q.Get("minutes") != "30" {
			t.Errorf("unexpected params %v", q)
		}
		writeJSON(w, `{"rentals":[{"id":"1","lat":-36.84,"lng":174.75}],"isochrone":{"type":"Polygon","coordinates":[[[174.7,-36.9],[174.8,-36.9],[174.8,-36.8],[174.7,-36.9]]]}}`)
	})
	c := newTestClient(t, r)
	origin := geo.Point{Lat: -36.85, Lng: 174.76}
	for i := 0; i < 2; i++ {
		res, err := c.Isochrone(context.Background(), "tok", origin, 30)
		if err != nil {
			t.Fatalf("isochrone: %v", err)
		}
		if len(res.Properties) != 1 || res.Isochrone == nil {
			t.Fatalf("unexpected result %+v", res)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("want one request, got %d", n)
	}
}

func TestFavoritesScope(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/favorites", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer jwt" {
			if r.URL.Query().Get("session_id") != "" {
				t.Errorf("bearer requests should not carry the session id")
			}
			writeJSON(w, `{"favorites":[{"listing_id":"L1"},{"id":"L2"}]}`)
			return
		}
		if r.URL.Query().Get("session_id") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, `["L9"]`)
	})
	var added, removed string
	r.Post("/favorites", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		added = req["listing_id"] + "/" + req["session_id"]
	})
	r.Delete("/favorites", func(w http.ResponseWriter, r *http.Request) {
		removed = r.URL.Query().Get("listing_id")
	})
	c := newTestClient(t, r)
	ctx := context.Background()

	favs, err := c.ListFavorites(ctx, session.Scope{Token: "tok", Bearer: "jwt"})
	if err != nil || len(favs) != 2 || favs[1].ListingID != "L2" {
		t.Fatalf("bearer list: %+v %v", favs, err)
	}
	favs, err = c.ListFavorites(ctx, session.Scope{Token: "tok"})
	if err != nil || len(favs) != 1 || favs[0].ListingID != "L9" {
		t.Fatalf("session list: %+v %v", favs, err)
	}
	if err := c.AddFavorite(ctx, session.Scope{Token: "tok"}, "L3"); err != nil || added != "L3/tok" {
		t.Fatalf("add: %q %v", added, err)
	}
	if err := c.RemoveFavorite(ctx, session.Scope{Token: "tok"}, "L3"); err != nil || removed != "L3" {
		t.Fatalf("remove: %q %v", removed, err)
	}
}

func TestPlacesSearch(t *testing.T) {
	var hits int32
	r := chi.NewRouter()
	r.Get("/search", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		q := r.URL.Query()
		if q.Get("format") != "json" || q.Get("limit") != "8" || q.Get("countrycodes") != "nz" {
			t.Errorf("unexpected params %v", q)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("missing user agent")
		}
		writeJSON(w, `[{"place_id":123,"display_name":"Grafton, Auckland, New Zealand","lat":"-36.8617","lon":"174.7670"}]`)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()
	p := NewPlaces(PlacesOptions{BaseURL: srv.URL, CountryCodes: "nz", Logger: quietLogger()})
	ctx := context.Background()

	if res, err := p.Search(ctx, " g "); res != nil || err != nil {
		t.Fatalf("short query should be a no-op: %v %v", res, err)
	}
	for _, q := range []string{"Grafton", "  grafton "} {
		res, err := p.Search(ctx, q)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(res) != 1 || res[0].Name != "Grafton" || res[0].ID != "123" {
			t.Fatalf("unexpected places %+v", res)
		}
		if res[0].Location != (geo.Point{Lat: -36.8617, Lng: 174.767}) {
			t.Fatalf("unexpected location %+v", res[0].Location)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("want one request, got %d", n)
	}
}

func TestPlacesLimiterSpacesRequests(t *testing.T) {
	lim := newPlacesLimiter(1)
	base := time.Unix(1000, 999*int64(time.Millisecond))
	if !lim.AllowN(base, 1) {
		t.Fatalf("first request should pass")
	}
	if lim.AllowN(base.Add(2*time.Millisecond), 1) {
		t.Fatalf("request 2ms later should wait")
	}
	if lim.AllowN(base.Add(900*time.Millisecond), 1) {
		t.Fatalf("request 900ms later should still wait")
	}
	if !lim.AllowN(base.Add(time.Second), 1) {
		t.Fatalf("request a full second later should pass")
	}
	if newPlacesLimiter(-1) != nil {
		t.Fatalf("negative rate disables limiting")
	}
}

func TestPlacesSearchHonoursContextWhileLimited(t *testing.T) {
	var hits int32
	r := chi.NewRouter()
	r.Get("/search", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, `[]`)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()
	p := NewPlaces(PlacesOptions{BaseURL: srv.URL, Logger: quietLogger()})

	if _, err := p.Search(context.Background(), "Grafton"); err != nil {
		t.Fatalf("first search: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Search(ctx, "Ponsonby"); err == nil {
		t.Fatalf("second search within the same second should give up on the deadline")
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("want one request, got %d", n)
	}
}

func TestTransportErrorHidesSessionToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	var buf bytes.Buffer
	c := New(Options{BaseURL: base, Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))})
	_, err := c.SchoolsByTA(context.Background(), "secret-token", "Auckland Central")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("error leaks the token: %v", err)
	}
	if strings.Contains(buf.String(), "secret-token") {
		t.Fatalf("log leaks the token: %s", buf.String())
	}
}

func TestZoneEndpointsRejectMissingList(t *testing.T) {
	var isoHits int32
	r := chi.NewRouter()
	detail := func(w http.ResponseWriter, r *http.Request) { writeJSON(w, `{"detail":"oops"}`) }
	r.Get("/territorial_authorities", detail)
	r.Get("/schools_by_ta", detail)
	r.Get("/rentals_by_school", detail)
	r.Get("/isochrone", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&isoHits, 1)
		detail(w, r)
	})
	c := newTestClient(t, r)
	ctx := context.Background()

	_, taErr := c.TerritorialAuthorities(ctx, "tok")
	_, schoolsErr := c.SchoolsByTA(ctx, "tok", "Auckland Central")
	_, rentalsErr := c.RentalsBySchool(ctx, "tok", "Grafton Primary")
	origin := geo.Point{Lat: -36.85, Lng: 174.76}
	_, isoErr := c.Isochrone(ctx, "tok", origin, 30)
	for name, err := range map[string]error{
		"territorial_authorities": taErr,
		"schools_by_ta":           schoolsErr,
		"rentals_by_school":       rentalsErr,
		"isochrone":               isoErr,
	} {
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: want ErrMalformed, got %v", name, err)
		}
	}

	if _, err := c.Isochrone(ctx, "tok", origin, 30); !errors.Is(err, ErrMalformed) {
		t.Fatalf("malformed isochrone must not be served from cache, got %v", err)
	}
	if n := atomic.LoadInt32(&isoHits); n != 2 {
		t.Fatalf("want two isochrone requests, got %d", n)
	}
}
