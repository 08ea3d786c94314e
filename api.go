package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"

	"fsim_map/overlay"
)

// maxTrackBody bounds the plain-text body of PUT /api/track.
const maxTrackBody = 1024

// server bundles what the HTTP handlers need.
type server struct {
	cfg    Config
	store  PositionStore
	ctrl   *overlay.Controller
	hub    *frameHub
	tiles  *tileProxy
	layers []TileLayer
	static fs.FS
	logger *slog.Logger
}

// routes builds the HTTP handler: gin serves the API and the tile proxy, the
// embedded web client is served as plain files. Everything except the
// websocket route and the already compressed tiles goes through gzip.
func (s *server) routes() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger))

	// === Position store ===

	// Example: GET /api/location
	// Returns the current position as JSON.
	router.GET("/api/location", s.getLocation)

	// Example: GET /api/track/12.3,-12.5,2300,256,120,-200
	// Updates the position; fields after lat,lon are optional.
	track := router.Group("/api/track", middlewareTrackUpdate)
	track.GET("/:data", s.putTrack)
	track.PUT("/:data", s.putTrack)
	track.PUT("", s.putTrack)

	// === Overlay ===

	router.GET("/api/overlay", s.getOverlay)
	router.GET("/api/overlay/geojson", s.getOverlayGeoJSON)
	router.GET("/api/overlay/stats", s.getOverlayStats)
	router.POST("/api/overlay/goto", s.postGoTo)
	router.POST("/api/overlay/tracking", s.postTracking)
	router.POST("/api/overlay/zoom", s.postZoom)
	router.PUT("/api/overlay/rings", s.putRings)
	router.GET("/api/overlay/ws", s.hub.handleWS(s.ctrl))

	// === Map client ===

	router.GET("/api/config", s.getConfig)
	router.GET("/tiles/:layer/:z/:x/:y", s.tiles.handleTile)

	mux := http.NewServeMux()
	mux.Handle("/api/overlay/ws", router)
	mux.Handle("/tiles/", router)
	mux.Handle("/api/", gzhttp.GzipHandler(router))
	mux.Handle("/", gzhttp.GzipHandler(http.FileServer(http.FS(s.static))))
	return mux
}

// runAPI serves handler on addr until ctx is cancelled, then shuts the
// server down gracefully.
func runAPI(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Map server listening", slog.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("API server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// middlewareTrackUpdate parses the track update from the :data path segment,
// or from the plain-text body when the segment is absent, and injects it into
// the gin context for downstream handlers.
//
// Rejected updates abort with 400 and a plain-text reason.
func middlewareTrackUpdate(c *gin.Context) {
	data := c.Param("data")
	if data == "" {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxTrackBody))
		if err != nil {
			c.String(http.StatusBadRequest, "Unable to read track update")
			c.Abort()
			return
		}
		data = strings.TrimSpace(string(body))
	}

	u, err := ParseTrackUpdate(data)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		c.Abort()
		return
	}

	c.Set("update", u)
	c.Next()
}

// getLocation returns the stored position.
//
// Example: GET /api/location
func (s *server) getLocation(c *gin.Context) {
	p, err := s.store.Position(c.Request.Context())
	if err != nil {
		s.logger.Error("Reading position failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "position unavailable"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// putTrack stores the update parsed by middlewareTrackUpdate.
func (s *server) putTrack(c *gin.Context) {
	u := c.MustGet("update").(TrackUpdate)
	if _, err := s.store.Apply(c.Request.Context(), u); err != nil {
		s.logger.Error("Storing position failed", slog.Any("error", err))
		c.String(http.StatusInternalServerError, "Unable to store position")
		return
	}
	c.String(http.StatusOK, "Center coords received")
}

func (s *server) getOverlay(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Frame())
}

func (s *server) getOverlayGeoJSON(c *gin.Context) {
	c.JSON(http.StatusOK, overlay.FrameGeoJSON(s.ctrl.Frame()))
}

func (s *server) getOverlayStats(c *gin.Context) {
	icons, ringBuilds := s.ctrl.Stats()
	c.JSON(http.StatusOK, gin.H{
		"icons":       icons,
		"ring_builds": ringBuilds,
		"clients":     s.hub.Clients(),
	})
}

// postGoTo recenters the map and switches tracking off.
//
// Example: POST /api/overlay/goto {"lon": 147.2, "lat": -9.4}
func (s *server) postGoTo(c *gin.Context) {
	var req struct {
		Lon *float64 `json:"lon" binding:"required"`
		Lat *float64 `json:"lat" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected {\"lon\": number, \"lat\": number}"})
		return
	}
	if err := s.ctrl.GoTo(*req.Lon, *req.Lat); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Frame())
}

// postTracking toggles between locked and free tracking.
func (s *server) postTracking(c *gin.Context) {
	mode := s.ctrl.ToggleTracking()
	c.JSON(http.StatusOK, gin.H{"tracking": mode.String()})
}

// Example: POST /api/overlay/zoom {"zoom": 8}
func (s *server) postZoom(c *gin.Context) {
	var req struct {
		Zoom *float64 `json:"zoom" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected {\"zoom\": number}"})
		return
	}
	if err := s.ctrl.SetZoom(*req.Zoom); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Frame().Camera)
}

// Example: PUT /api/overlay/rings {"radii": [2, 5, 10, 20]}
func (s *server) putRings(c *gin.Context) {
	var req struct {
		Radii []float64 `json:"radii"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected {\"radii\": [number, ...]}"})
		return
	}
	if err := s.ctrl.SetRadii(req.Radii); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"radii_nm": req.Radii})
}

// getConfig returns the settings the web client starts with.
func (s *server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"center":         s.cfg.Map.Center,
		"zoom":           s.cfg.Map.Zoom,
		"show_icon":      s.cfg.Map.ShowIcon,
		"show_rings":     s.cfg.Map.ShowRings,
		"update_rate_hz": s.cfg.UpdateRateHz,
		"bing_key":       s.cfg.Tiles.BingKey,
		"layers":         s.layers,
	})
}
