package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// maxTileBytes bounds a single upstream tile.
const maxTileBytes = 4 << 20

const tileUserAgent = "fsim_map/1.0 (+moving map tile proxy)"

type tile struct {
	contentType string
	body        []byte
}

// tileProxy serves proxied catalog layers from an expiring LRU cache, going
// upstream on a miss.
type tileProxy struct {
	layers []TileLayer
	cache  *expirable.LRU[string, tile]
	client *http.Client
	logger *slog.Logger
}

func newTileProxy(layers []TileLayer, size int, ttl time.Duration, client *http.Client, logger *slog.Logger) *tileProxy {
	if size <= 0 {
		size = 1
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &tileProxy{
		layers: layers,
		cache:  expirable.NewLRU[string, tile](size, nil, ttl),
		client: client,
		logger: logger,
	}
}

var (
	errTileNotFound = errors.New("no such tile")
	errTileUpstream = errors.New("tile upstream failed")
)

// parseTileCoords reads z/x/y, allowing an image extension on y, and checks
// them against the layer's zoom range and the 2^z grid.
func parseTileCoords(l TileLayer, zs, xs, ys string) (z, x, y int, err error) {
	ys = strings.TrimSuffix(ys, path.Ext(ys))
	if z, err = strconv.Atoi(zs); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: zoom %q", errTileNotFound, zs)
	}
	if x, err = strconv.Atoi(xs); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: x %q", errTileNotFound, xs)
	}
	if y, err = strconv.Atoi(ys); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: y %q", errTileNotFound, ys)
	}
	if z < l.MinZoom || z > l.MaxZoom {
		return 0, 0, 0, fmt.Errorf("%w: zoom %d outside %d..%d", errTileNotFound, z, l.MinZoom, l.MaxZoom)
	}
	n := 1 << z
	if x < 0 || x >= n || y < 0 || y >= n {
		return 0, 0, 0, fmt.Errorf("%w: %d/%d/%d off the grid", errTileNotFound, z, x, y)
	}
	return z, x, y, nil
}

// Tile returns the tile, from cache when possible.
func (p *tileProxy) Tile(ctx context.Context, layer, zs, xs, ys string) (tile, error) {
	l, ok := layerByName(p.layers, layer)
	if !ok || !l.Proxied {
		return tile{}, fmt.Errorf("%w: layer %q", errTileNotFound, layer)
	}
	z, x, y, err := parseTileCoords(l, zs, xs, ys)
	if err != nil {
		return tile{}, err
	}

	key := fmt.Sprintf("%s/%d/%d/%d", layer, z, x, y)
	if t, ok := p.cache.Get(key); ok {
		return t, nil
	}

	t, err := p.fetch(ctx, l.tileURL(z, x, y))
	if err != nil {
		return tile{}, err
	}
	p.cache.Add(key, t)
	return t, nil
}

func (p *tileProxy) fetch(ctx context.Context, url string) (tile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return tile{}, fmt.Errorf("%w: %v", errTileUpstream, err)
	}
	req.Header.Set("User-Agent", tileUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return tile{}, fmt.Errorf("%w: %v", errTileUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return tile{}, fmt.Errorf("%w: upstream 404", errTileNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return tile{}, fmt.Errorf("%w: %s", errTileUpstream, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return tile{}, fmt.Errorf("%w: %v", errTileUpstream, err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	return tile{contentType: ct, body: body}, nil
}

// handleTile serves GET /tiles/:layer/:z/:x/:y.
func (p *tileProxy) handleTile(c *gin.Context) {
	t, err := p.Tile(c.Request.Context(), c.Param("layer"), c.Param("z"), c.Param("x"), c.Param("y"))
	switch {
	case errors.Is(err, errTileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		p.logger.Warn("Tile fetch failed", slog.String("layer", c.Param("layer")), slog.Any("error", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusOK, t.contentType, t.body)
}
