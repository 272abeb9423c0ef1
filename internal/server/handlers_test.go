package server

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"tracketl/internal/analytics"
	"tracketl/internal/config"
	"tracketl/internal/logging"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Listen:          ":0",
			RequestTimeout:  5 * time.Second,
			ShutdownTimeout: time.Second,
		},
		Database: config.DatabaseConfig{Path: "unused", Table: "tracks"},
		Logging:  config.LoggingConfig{Level: "error"},
		API:      config.APIConfig{DefaultLimit: 10, MaxLimit: 50},
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "t.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE tracks (
		track_name TEXT, artists TEXT, track_genre TEXT,
		popularity INTEGER, energy REAL, danceability REAL, valence REAL
	)`)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	seed := [][]any{
		{"Song A", "Alpha", "rock", 90, 0.9, 0.5, 0.3},
		{"Song B", "Alpha;Beta", "rock", 70, 0.7, 0.6, 0.4},
		{"Song C", "Gamma", "pop", 50, 0.5, 0.7, 0.5},
	}
	for _, row := range seed {
		if _, err := db.Exec("INSERT INTO tracks VALUES (?, ?, ?, ?, ?, ?, ?)", row...); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	srv, err := New(testConfig(), logging.NewLoggerTo(io.Discard, "error"), db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) int {
	t.Helper()

	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	var body map[string]string
	if code := getJSON(t, ts, "/api/v1/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	var st analytics.Stats
	if code := getJSON(t, ts, "/api/v1/stats", &st); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if st.Tracks != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestTopGenresEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	var out []analytics.GenreCount
	if code := getJSON(t, ts, "/api/v1/genres/top?limit=1", &out); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(out) != 1 || out[0].Genre != "rock" {
		t.Errorf("out = %+v", out)
	}
}

func TestTopArtistsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	var out []analytics.ArtistCount
	if code := getJSON(t, ts, "/api/v1/artists/top", &out); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(out) == 0 || out[0].Artist != "Alpha" || out[0].Count != 2 {
		t.Errorf("out = %+v", out)
	}
}

func TestTracksEndpointFiltersAndValidation(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	var out []analytics.Track
	code := getJSON(t, ts, "/api/v1/tracks?genre=rock&min_popularity=80", &out)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(out) != 1 || out[0].TrackName != "Song A" {
		t.Errorf("out = %+v", out)
	}

	if code := getJSON(t, ts, "/api/v1/tracks?min_popularity=abc", nil); code != http.StatusBadRequest {
		t.Errorf("bad min_popularity status = %d, want 400", code)
	}
	if code := getJSON(t, ts, "/api/v1/tracks?min_popularity=90&max_popularity=10", nil); code != http.StatusBadRequest {
		t.Errorf("inverted range status = %d, want 400", code)
	}
}

func TestHistogramEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	var out []analytics.HistogramBucket
	if code := getJSON(t, ts, "/api/v1/popularity/histogram?bins=10", &out); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(out) != 10 {
		t.Errorf("bins = %d", len(out))
	}

	if code := getJSON(t, ts, "/api/v1/popularity/histogram?bins=0", nil); code != http.StatusBadRequest {
		t.Errorf("bins=0 status = %d, want 400", code)
	}
}

func TestLimitClamping(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	// limit beyond MaxLimit is clamped, not an error.
	var out []analytics.Track
	if code := getJSON(t, ts, "/api/v1/tracks?limit=99999", &out); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(out) != 3 {
		t.Errorf("rows = %d", len(out))
	}
}
