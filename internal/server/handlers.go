package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"tracketl/internal/analytics"
)

type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "service_unhealthy", "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", DB: "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.fail(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTopGenres(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.TopGenres(r.Context(), s.limitParam(r))
	if err != nil {
		s.fail(w, "top genres", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGenrePopularity(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.AvgPopularityByGenre(r.Context(), s.limitParam(r))
	if err != nil {
		s.fail(w, "genre popularity", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTopArtists(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.TopArtists(r.Context(), s.limitParam(r))
	if err != nil {
		s.fail(w, "top artists", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	bins := intParam(r, "bins", 10)
	if bins < 1 || bins > 100 {
		writeError(w, http.StatusBadRequest, "invalid_bins", "bins must be between 1 and 100")
		return
	}
	out, err := s.store.PopularityHistogram(r.Context(), bins)
	if err != nil {
		s.fail(w, "popularity histogram", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	f, ok := s.filterParams(w, r)
	if !ok {
		return
	}
	out, err := s.store.TrackSample(r.Context(), f)
	if err != nil {
		s.fail(w, "tracks", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAudioPoints(w http.ResponseWriter, r *http.Request) {
	f, ok := s.filterParams(w, r)
	if !ok {
		return
	}
	out, err := s.store.AudioPoints(r.Context(), f)
	if err != nil {
		s.fail(w, "audio points", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.logger.Error("query failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "query_failed", "query failed")
}

// limitParam reads ?limit= clamped to the configured maximum.
func (s *Server) limitParam(r *http.Request) int {
	n := intParam(r, "limit", s.cfg.API.DefaultLimit)
	if n < 1 {
		n = s.cfg.API.DefaultLimit
	}
	if n > s.cfg.API.MaxLimit {
		n = s.cfg.API.MaxLimit
	}
	return n
}

// filterParams reads the shared list-filter query parameters. On invalid
// numeric input it writes a 400 and reports !ok.
func (s *Server) filterParams(w http.ResponseWriter, r *http.Request) (analytics.Filter, bool) {
	q := r.URL.Query()
	f := analytics.Filter{
		Genre:          q.Get("genre"),
		ArtistContains: q.Get("artist"),
		Limit:          s.limitParam(r),
	}

	for name, dst := range map[string]*int{
		"min_popularity": &f.MinPopularity,
		"max_popularity": &f.MaxPopularity,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 || v > 100 {
			writeError(w, http.StatusBadRequest, "invalid_param", name+" must be an integer between 0 and 100")
			return f, false
		}
		*dst = v
	}
	if f.MaxPopularity > 0 && f.MinPopularity > f.MaxPopularity {
		writeError(w, http.StatusBadRequest, "invalid_param", "min_popularity exceeds max_popularity")
		return f, false
	}
	return f, true
}

func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
