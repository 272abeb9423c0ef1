// Package analytics runs canned exploratory queries over a loaded tracks
// table. Queries are dialect-neutral SQL over database/sql, so any backend
// reachable through a *sql.DB works; the dashboard uses SQLite.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"tracketl/internal/storage"
)

// Store wraps a database handle and the tracks table name.
type Store struct {
	db    *sql.DB
	table string
}

// NewStore validates the table name and returns a Store. The handle is
// owned by the caller.
func NewStore(db *sql.DB, table string) (*Store, error) {
	if err := storage.ValidateIdent(table); err != nil {
		return nil, err
	}
	return &Store{db: db, table: table}, nil
}

// ident returns the quoted table name. Validated in NewStore.
func (s *Store) ident() string {
	return `"` + s.table + `"`
}

// Stats are the dashboard KPIs.
type Stats struct {
	Tracks        int64   `json:"tracks"`
	UniqueArtists int64   `json:"unique_artists"`
	AvgPopularity float64 `json:"avg_popularity"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	q := fmt.Sprintf(
		"SELECT COUNT(*), COUNT(DISTINCT artists), COALESCE(AVG(popularity), 0) FROM %s",
		s.ident())
	if err := s.db.QueryRowContext(ctx, q).Scan(&st.Tracks, &st.UniqueArtists, &st.AvgPopularity); err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// GenreCount is one leaderboard row.
type GenreCount struct {
	Genre string `json:"genre"`
	Count int64  `json:"count"`
}

// TopGenres returns the n most frequent genres, most frequent first.
func (s *Store) TopGenres(ctx context.Context, n int) ([]GenreCount, error) {
	q := fmt.Sprintf(`
		SELECT track_genre, COUNT(*) AS n
		FROM %s
		WHERE track_genre IS NOT NULL
		GROUP BY track_genre
		ORDER BY n DESC, track_genre ASC
		LIMIT ?`, s.ident())

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("top genres: %w", err)
	}
	defer rows.Close()

	var out []GenreCount
	for rows.Next() {
		var gc GenreCount
		if err := rows.Scan(&gc.Genre, &gc.Count); err != nil {
			return nil, err
		}
		out = append(out, gc)
	}
	return out, rows.Err()
}

// ArtistCount is one leaderboard row. Artist is the primary artist: the
// stored artists column is a semicolon- or comma-separated list and only the
// first entry counts.
type ArtistCount struct {
	Artist string `json:"artist"`
	Count  int64  `json:"count"`
}

// TopArtists returns the n most frequent primary artists.
//
// The split happens in Go rather than SQL so both list separators seen in
// the dataset are handled uniformly.
func (s *Store) TopArtists(ctx context.Context, n int) ([]ArtistCount, error) {
	q := fmt.Sprintf("SELECT artists FROM %s", s.ident())
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("top artists: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var artists sql.NullString
		if err := rows.Scan(&artists); err != nil {
			return nil, err
		}
		name := "Unknown"
		if artists.Valid && artists.String != "" {
			name = PrimaryArtist(artists.String)
		}
		counts[name]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ArtistCount, 0, len(counts))
	for a, c := range counts {
		out = append(out, ArtistCount{Artist: a, Count: c})
	}
	sortArtists(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// PrimaryArtist extracts the first artist from a separated list.
func PrimaryArtist(artists string) string {
	cut := len(artists)
	if i := strings.IndexByte(artists, ';'); i >= 0 && i < cut {
		cut = i
	}
	if i := strings.IndexByte(artists, ','); i >= 0 && i < cut {
		cut = i
	}
	name := strings.TrimSpace(artists[:cut])
	if name == "" {
		return "Unknown"
	}
	return name
}

func sortArtists(a []ArtistCount) {
	// Count descending, then name ascending for a stable leaderboard.
	sort.Slice(a, func(i, j int) bool {
		if a[i].Count != a[j].Count {
			return a[i].Count > a[j].Count
		}
		return a[i].Artist < a[j].Artist
	})
}

// GenrePopularity is the average popularity of one genre.
type GenrePopularity struct {
	Genre         string  `json:"genre"`
	AvgPopularity float64 `json:"avg_popularity"`
	Tracks        int64   `json:"tracks"`
}

// AvgPopularityByGenre returns per-genre average popularity for the n most
// popular genres.
func (s *Store) AvgPopularityByGenre(ctx context.Context, n int) ([]GenrePopularity, error) {
	q := fmt.Sprintf(`
		SELECT track_genre, AVG(popularity) AS avg_pop, COUNT(*) AS n
		FROM %s
		WHERE track_genre IS NOT NULL AND popularity IS NOT NULL
		GROUP BY track_genre
		ORDER BY avg_pop DESC, track_genre ASC
		LIMIT ?`, s.ident())

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("avg popularity by genre: %w", err)
	}
	defer rows.Close()

	var out []GenrePopularity
	for rows.Next() {
		var gp GenrePopularity
		if err := rows.Scan(&gp.Genre, &gp.AvgPopularity, &gp.Tracks); err != nil {
			return nil, err
		}
		out = append(out, gp)
	}
	return out, rows.Err()
}

// HistogramBucket is one bin of the popularity histogram.
type HistogramBucket struct {
	// Lo is the inclusive lower bound of the bucket.
	Lo    int64 `json:"lo"`
	Hi    int64 `json:"hi"`
	Count int64 `json:"count"`
}

// PopularityHistogram buckets popularity 0..100 into equal-width bins.
func (s *Store) PopularityHistogram(ctx context.Context, bins int) ([]HistogramBucket, error) {
	if bins <= 0 {
		bins = 10
	}
	width := 100 / bins
	if width < 1 {
		width = 1
		bins = 100
	}

	q := fmt.Sprintf("SELECT popularity FROM %s WHERE popularity IS NOT NULL", s.ident())
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("popularity histogram: %w", err)
	}
	defer rows.Close()

	counts := make([]int64, bins)
	for rows.Next() {
		var p int64
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		idx := int(p) / width
		if idx < 0 {
			idx = 0
		}
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]HistogramBucket, bins)
	for i := range out {
		out[i] = HistogramBucket{
			Lo:    int64(i * width),
			Hi:    int64((i + 1) * width),
			Count: counts[i],
		}
	}
	return out, nil
}

// Filter narrows TrackSample and AudioPoints.
type Filter struct {
	// Genre filters on exact track_genre. Empty means all genres.
	Genre string
	// ArtistContains is a case-insensitive substring match on artists.
	ArtistContains string
	// MinPopularity and MaxPopularity bound popularity inclusively.
	// MaxPopularity zero means no upper bound.
	MinPopularity int
	MaxPopularity int
	// Limit caps the result. Zero means 100.
	Limit int
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	if f.Genre != "" {
		conds = append(conds, "track_genre = ?")
		args = append(args, f.Genre)
	}
	if f.ArtistContains != "" {
		conds = append(conds, "LOWER(artists) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.ArtistContains)+"%")
	}
	if f.MinPopularity > 0 {
		conds = append(conds, "popularity >= ?")
		args = append(args, f.MinPopularity)
	}
	if f.MaxPopularity > 0 {
		conds = append(conds, "popularity <= ?")
		args = append(args, f.MaxPopularity)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Track is one sampled row.
type Track struct {
	TrackName  string  `json:"track_name"`
	Artists    string  `json:"artists"`
	Genre      string  `json:"genre"`
	Popularity int64   `json:"popularity"`
	Energy     float64 `json:"energy"`
	Dance      float64 `json:"danceability"`
}

// TrackSample returns filtered tracks ordered by popularity descending.
func (s *Store) TrackSample(ctx context.Context, f Filter) ([]Track, error) {
	where, args := f.where()
	q := fmt.Sprintf(`
		SELECT track_name, artists, track_genre, popularity,
		       COALESCE(energy, 0), COALESCE(danceability, 0)
		FROM %s%s
		ORDER BY popularity DESC, track_name ASC
		LIMIT ?`, s.ident(), where)
	args = append(args, f.limit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("track sample: %w", err)
	}
	defer rows.Close()

	var out []Track
	for rows.Next() {
		var t Track
		var name, artists, genre sql.NullString
		if err := rows.Scan(&name, &artists, &genre, &t.Popularity, &t.Energy, &t.Dance); err != nil {
			return nil, err
		}
		t.TrackName = name.String
		t.Artists = artists.String
		t.Genre = genre.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// AudioPoint is one energy/danceability scatter point.
type AudioPoint struct {
	Energy  float64 `json:"energy"`
	Dance   float64 `json:"danceability"`
	Valence float64 `json:"valence"`
}

// AudioPoints returns filtered scatter points for the energy vs
// danceability view.
func (s *Store) AudioPoints(ctx context.Context, f Filter) ([]AudioPoint, error) {
	where, args := f.where()
	q := fmt.Sprintf(`
		SELECT energy, danceability, COALESCE(valence, 0)
		FROM %s%s
		LIMIT ?`, s.ident(), where)
	args = append(args, f.limit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audio points: %w", err)
	}
	defer rows.Close()

	var out []AudioPoint
	for rows.Next() {
		var p AudioPoint
		var energy, dance sql.NullFloat64
		if err := rows.Scan(&energy, &dance, &p.Valence); err != nil {
			return nil, err
		}
		if !energy.Valid || !dance.Valid {
			continue
		}
		p.Energy = energy.Float64
		p.Dance = dance.Float64
		out = append(out, p)
	}
	return out, rows.Err()
}
