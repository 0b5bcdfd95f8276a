package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tileview/internal/cache"
	"tileview/internal/config"
	"tileview/internal/render"
	"tileview/internal/sources"
	"tileview/internal/tile"
)

type Handlers struct {
	config   *config.Config
	logger   *zap.Logger
	sources  *sources.Scanner
	renderer *render.Renderer
	loop     *cache.Loop
}

func New(config *config.Config, logger *zap.Logger, sources *sources.Scanner, renderer *render.Renderer, loop *cache.Loop) *Handlers {
	return &Handlers{
		config:   config,
		logger:   logger,
		sources:  sources,
		renderer: renderer,
		loop:     loop,
	}
}

// Routes registers every API handler on mux.
func (h *Handlers) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/tiles/", h.HandleTileRoutes)
	mux.HandleFunc("/api/sources", h.HandleSources)
	mux.HandleFunc("/api/stats", h.HandleStats)
	mux.HandleFunc("/api/focus", h.HandleFocus)
	mux.HandleFunc("/api/cache/clear", h.HandleClear)
	mux.HandleFunc("/healthz", h.HandleHealthz)
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		bytes := wrapped.bytesWritten

		// tile requests are frequent, keep them out of info logs
		log := h.logger.Info
		if strings.HasPrefix(r.URL.Path, "/api/tiles/") && wrapped.statusCode < 400 {
			log = h.logger.Debug
		}
		log("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", bytes),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else {
			host := r.Host
			if origin != "" && (strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host)) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "X-Tile-State, X-Tile-Mode, ETag")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type sourceInfo struct {
	Slug       string `json:"slug"`
	Name       string `json:"name,omitempty"`
	TileWidth  int    `json:"tile_width"`
	TileHeight int    `json:"tile_height"`
	Extension  string `json:"extension,omitempty"`
}

func (h *Handlers) HandleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// tokens and URL templates stay server side
	out := []sourceInfo{}
	for _, src := range h.sources.GetSources() {
		ext, _ := src.FilenameExtension()
		out = append(out, sourceInfo{
			Slug:       src.Slug,
			Name:       src.Name,
			TileWidth:  src.TileWidth,
			TileHeight: src.TileHeight,
			Extension:  ext,
		})
	}
	writeJSON(w, out)
}

func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var stats cache.Stats
	if err := h.loop.Do(r.Context(), func(c *cache.TileCache) { stats = c.Stats() }); err != nil {
		h.unavailable(w, err)
		return
	}
	writeJSON(w, stats)
}

// HandleFocus reports the focus zoom level on GET. POST sets it from ?z=N;
// a negative or missing z clears it.
func (h *Handlers) HandleFocus(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var z int
		if err := h.loop.Do(r.Context(), func(c *cache.TileCache) { z = c.FocusZoomLevel() }); err != nil {
			h.unavailable(w, err)
			return
		}
		writeJSON(w, map[string]int{"focus_zoom": z})
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	z := cache.NoFocus
	if v := r.URL.Query().Get("z"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n > render.MaxZoom {
			http.Error(w, "Invalid zoom level", http.StatusBadRequest)
			return
		}
		if n >= 0 {
			z = n
		}
	}

	if err := h.loop.Do(r.Context(), func(c *cache.TileCache) { c.SetFocusZoomLevel(z) }); err != nil {
		h.unavailable(w, err)
		return
	}
	writeJSON(w, map[string]int{"focus_zoom": z})
}

func (h *Handlers) HandleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var clearErr error
	if err := h.loop.Do(r.Context(), func(c *cache.TileCache) { clearErr = c.Clear() }); err != nil {
		h.unavailable(w, err)
		return
	}
	if clearErr != nil {
		h.logger.Warn("Cache clear left files behind", zap.Error(clearErr))
	}
	writeJSON(w, map[string]bool{"cleared": true})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HandleTileRoutes serves /api/tiles/{slug}/{z}/{x}/{y}.png and the @Nx
// high-dpi variant. Query parameters g and p set generation and priority.
func (h *Handlers) HandleTileRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/tiles/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 4 {
		http.NotFound(w, r)
		return
	}

	src := h.sources.GetSource(parts[0])
	if src == nil {
		http.Error(w, "Unknown source", http.StatusNotFound)
		return
	}

	req, err := parseTileRequest(src, parts[1:], r)
	if err == nil {
		err = render.CheckCoordinates(int(req.Z), req.X, req.Y)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.renderer.RenderTile(r.Context(), req)
	if err != nil {
		if errors.Is(err, cache.ErrLoopStopped) || errors.Is(err, r.Context().Err()) {
			h.unavailable(w, err)
			return
		}
		h.logger.Error("Failed to render tile", zap.Stringer("tile", req.Key()), zap.Error(err))
		http.Error(w, "Failed to render tile", http.StatusInternalServerError)
		return
	}

	w.Header().Set("ETag", `"`+result.ETag+`"`)
	w.Header().Set("X-Tile-State", result.State.String())
	w.Header().Set("X-Tile-Mode", result.Mode.String())
	if result.Mode == tile.Complete {
		maxAge := int(time.Until(result.Expires).Seconds())
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", max(maxAge, 0)))
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}

	if match := r.Header.Get("If-None-Match"); match != "" && match == `"`+result.ETag+`"` {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(result.Size))

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(result.Data)
}

// parseTileRequest reads z, x and "{y}[@{mult}x].png".
func parseTileRequest(src *tile.Source, parts []string, r *http.Request) (tile.Request, error) {
	z, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return tile.Request{}, errors.New("Invalid zoom level")
	}
	x, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return tile.Request{}, errors.New("Invalid x coordinate")
	}

	tileFile := parts[2]
	ext := filepath.Ext(tileFile)
	if ext != ".png" {
		return tile.Request{}, errors.New("Invalid format")
	}
	name := strings.TrimSuffix(tileFile, ext)

	mult := uint64(1)
	if at := strings.IndexByte(name, '@'); at >= 0 {
		m, err := strconv.ParseUint(strings.TrimSuffix(name[at+1:], "x"), 10, 8)
		if err != nil || m < 1 || m > 4 {
			return tile.Request{}, errors.New("Invalid multiplier")
		}
		mult = m
		name = name[:at]
	}
	y, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return tile.Request{}, errors.New("Invalid y coordinate")
	}

	q := r.URL.Query()
	var generation uint64
	if v := q.Get("g"); v != "" {
		if generation, err = strconv.ParseUint(v, 10, 64); err != nil {
			return tile.Request{}, errors.New("Invalid generation")
		}
	}
	var priority int64
	if v := q.Get("p"); v != "" {
		if priority, err = strconv.ParseInt(v, 10, 64); err != nil {
			return tile.Request{}, errors.New("Invalid priority")
		}
	}

	return tile.NewRequest(src, uint8(z), uint32(x), uint32(y), uint8(mult), generation, priority), nil
}

func (h *Handlers) unavailable(w http.ResponseWriter, err error) {
	h.logger.Warn("Cache unavailable", zap.Error(err))
	http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Not for real production use due to potential spoofing
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
