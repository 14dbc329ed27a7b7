// Package mapengine maintains each guild's pin-board map: a rendered
// region image, edited in place as users pin and unpin locations, with
// a two-level render cache underneath.
package mapengine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"github.com/rs/zerolog"

	"github.com/herald-labs/herald/internal/cache"
	"github.com/herald-labs/herald/internal/chat"
	"github.com/herald-labs/herald/internal/config"
	"github.com/herald-labs/herald/internal/geo"
	"github.com/herald-labs/herald/internal/herr"
	"github.com/herald-labs/herald/internal/metrics"
	"github.com/herald-labs/herald/internal/storage"
)

// Store is the slice of the persistent store the map engine uses.
type Store interface {
	MapSettings(ctx context.Context, guildID uint64) (*storage.MapSettings, error)
	SetMapRegion(ctx context.Context, guildID uint64, region string) error
	SetMapVisual(ctx context.Context, guildID uint64, v storage.VisualSettings) error
	SetMapMessage(ctx context.Context, guildID uint64, channelID, messageID uint64) error
	ListPins(ctx context.Context, guildID uint64) ([]*storage.MapPin, error)
	GetPin(ctx context.Context, guildID, userID uint64) (*storage.MapPin, error)
	SetPin(ctx context.Context, p *storage.MapPin) error
	DeletePin(ctx context.Context, guildID, userID uint64) error
	CountPins(ctx context.Context, guildID uint64) (int, error)
	PinsInBounds(ctx context.Context, guildID uint64, minLat, maxLat, minLng, maxLng float64) ([]*storage.MapPin, error)
}

// Getter is the plain HTTP surface used for geocoding.
type Getter interface {
	Get(ctx context.Context, url string, accept string) ([]byte, error)
}

type Engine struct {
	store    Store
	getter   Getter
	renderer *Renderer
	adapter  chat.Adapter
	cfg      config.MapConfig
	logger   zerolog.Logger

	baseMem *cache.Cache[string, image.Image]
	disk    *diskCache

	// sem bounds concurrent rasterization; shapefile draws are CPU- and
	// memory-heavy.
	sem chan struct{}

	// userMu serializes pin mutations per (guild, user).
	mu       sync.Mutex
	userLock map[string]*sync.Mutex
}

func NewEngine(store Store, getter Getter, adapter chat.Adapter, cfg config.MapConfig, logger zerolog.Logger) (*Engine, error) {
	disk, err := newDiskCache(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("map cache dir: %w", err)
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		store:    store,
		getter:   getter,
		renderer: NewRenderer(NewAtlas(cfg.DataDir), cfg.BaseWidth),
		adapter:  adapter,
		cfg:      cfg,
		logger:   logger,
		baseMem:  cache.New[string, image.Image](time.Hour),
		disk:     disk,
		sem:      make(chan struct{}, workers),
		userLock: make(map[string]*sync.Mutex),
	}, nil
}

func (e *Engine) lockUser(guildID, userID uint64) func() {
	key := fmt.Sprintf("%d:%d", guildID, userID)
	e.mu.Lock()
	l, ok := e.userLock[key]
	if !ok {
		l = &sync.Mutex{}
		e.userLock[key] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// regionBounds resolves a stored region string. Custom regions are
// stored as "custom:minLat,maxLat,minLng,maxLng".
func regionBounds(region string) (geo.Region, geo.Bounds, error) {
	if rest, ok := strings.CutPrefix(region, string(geo.RegionCustom)+":"); ok {
		parts := strings.Split(rest, ",")
		if len(parts) != 4 {
			return "", geo.Bounds{}, fmt.Errorf("malformed custom region %q", region)
		}
		vals := make([]float64, 4)
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return "", geo.Bounds{}, fmt.Errorf("malformed custom region %q", region)
			}
			vals[i] = v
		}
		b := geo.Bounds{MinLat: vals[0], MaxLat: vals[1], MinLng: vals[2], MaxLng: vals[3]}
		if b.MinLat >= b.MaxLat || b.MinLng >= b.MaxLng {
			return "", geo.Bounds{}, fmt.Errorf("empty custom region %q", region)
		}
		return geo.RegionCustom, b, nil
	}

	r, err := geo.ParseRegion(region)
	if err != nil {
		return "", geo.Bounds{}, err
	}
	b, ok := geo.RegionBounds(r)
	if !ok {
		return "", geo.Bounds{}, fmt.Errorf("region %q has no bounds", region)
	}
	return r, b, nil
}

// SetRegion validates and stores the guild's map region, then refreshes
// the board. Visual settings and pins are untouched.
func (e *Engine) SetRegion(ctx context.Context, guildID uint64, region string) error {
	if _, _, err := regionBounds(region); err != nil {
		return herr.New(herr.PermanentSource, err)
	}
	if err := e.store.SetMapRegion(ctx, guildID, region); err != nil {
		return err
	}
	return e.RefreshBoard(ctx, guildID)
}

// SetVisual stores new visual settings. Old cache entries are left on
// disk; the new hash simply keys fresh entries.
func (e *Engine) SetVisual(ctx context.Context, guildID uint64, v storage.VisualSettings) error {
	if v.PinSize < 8 || v.PinSize > 32 {
		return herr.New(herr.PermanentSource, fmt.Errorf("pin size %d out of range 8-32", v.PinSize))
	}
	if err := e.store.SetMapVisual(ctx, guildID, v); err != nil {
		return err
	}
	return e.RefreshBoard(ctx, guildID)
}

// Pin geocodes the query, stores the pin, and refreshes the board.
// Coordinates outside the guild's region are rejected.
func (e *Engine) Pin(ctx context.Context, guildID, userID uint64, query, color string) (*storage.MapPin, error) {
	unlock := e.lockUser(guildID, userID)
	defer unlock()

	settings, err := e.store.MapSettings(ctx, guildID)
	if err != nil {
		return nil, err
	}
	_, bounds, err := regionBounds(settings.Region)
	if err != nil {
		return nil, err
	}

	loc, err := e.geocode(ctx, query)
	if err != nil {
		return nil, err
	}
	if !bounds.Contains(loc.Lat, loc.Lng) {
		return nil, herr.Newf(herr.OutOfBounds, "%s (%.4f, %.4f) is outside the %s map", loc.DisplayName, loc.Lat, loc.Lng, settings.Region)
	}

	pin := &storage.MapPin{
		GuildID:  guildID,
		UserID:   userID,
		Lat:      loc.Lat,
		Lng:      loc.Lng,
		Label:    loc.DisplayName,
		Color:    color,
		PinnedAt: time.Now(),
	}
	if err := e.store.SetPin(ctx, pin); err != nil {
		return nil, err
	}

	if err := e.RefreshBoard(ctx, guildID); err != nil {
		e.logger.Warn().Err(err).Uint64("guild", guildID).Msg("map refresh after pin failed")
	}
	return pin, nil
}

// Unpin removes the user's pin and refreshes the board.
func (e *Engine) Unpin(ctx context.Context, guildID, userID uint64) error {
	unlock := e.lockUser(guildID, userID)
	defer unlock()

	if err := e.store.DeletePin(ctx, guildID, userID); err != nil {
		return err
	}
	return e.RefreshBoard(ctx, guildID)
}

// RefreshBoard renders the final map and edits the board message in
// place, posting a fresh one when none exists or the old one is gone.
func (e *Engine) RefreshBoard(ctx context.Context, guildID uint64) error {
	settings, err := e.store.MapSettings(ctx, guildID)
	if err != nil {
		return err
	}
	if settings.ChannelID == nil {
		// No board channel configured; nothing to publish.
		return nil
	}

	img, err := e.RenderFinal(ctx, guildID, settings)
	if err != nil {
		return err
	}

	count, err := e.store.CountPins(ctx, guildID)
	if err != nil {
		return err
	}
	msg := &chat.Message{
		Content:     fmt.Sprintf("%d pins", count),
		Attachments: []chat.Attachment{{Name: "map.png", Data: img}},
	}

	if settings.MessageID != nil {
		err := e.adapter.EditMessage(ctx, *settings.ChannelID, *settings.MessageID, msg)
		if err == nil {
			return nil
		}
		if !herr.Is(err, herr.NotFound) {
			return err
		}
	}

	msgID, err := e.adapter.SendMessage(ctx, *settings.ChannelID, msg)
	if err != nil {
		return err
	}
	return e.store.SetMapMessage(ctx, guildID, *settings.ChannelID, msgID)
}

// RenderFinal produces the guild's current map PNG: cached base plus
// grouped pins, served from the final cache when the pin set and visual
// settings are unchanged.
func (e *Engine) RenderFinal(ctx context.Context, guildID uint64, settings *storage.MapSettings) ([]byte, error) {
	region, bounds, err := regionBounds(settings.Region)
	if err != nil {
		return nil, err
	}
	pins, err := e.store.ListPins(ctx, guildID)
	if err != nil {
		return nil, err
	}

	vhash := visualHash(settings.Visual)
	fkey := finalKey(settings.Region, pinHash(pins), vhash)
	if b, ok := e.disk.GetBytes(fkey); ok {
		metrics.MapCacheHits.WithLabelValues("final").Inc()
		return b, nil
	}

	var out []byte
	err = e.withWorker(ctx, func() error {
		start := time.Now()
		defer func() { metrics.MapRenderSeconds.Observe(time.Since(start).Seconds()) }()

		base, err := e.baseImage(region, settings.Region, bounds, settings.Visual, vhash)
		if err != nil {
			return err
		}

		width, height := e.cfg.BaseWidth, geo.ImageHeight(bounds, e.cfg.BaseWidth)
		proj := geo.NewProjection(bounds, width, height)
		dc := gg.NewContextForImage(base)
		drawPins(dc, groupPins(proj, pins, settings.Visual.PinSize), settings.Visual)

		var buf bytes.Buffer
		if err := png.Encode(&buf, dc.Image()); err != nil {
			return err
		}
		out = buf.Bytes()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.disk.PutBytes(fkey, out); err != nil {
		e.logger.Warn().Err(err).Str("key", fkey).Msg("final cache write failed")
	}
	return out, nil
}

// baseImage resolves the pin-free region image through the two cache
// levels before falling back to a full rasterization. regionStr is the
// stored region string, which for custom regions carries the bounds the
// cache keys need.
func (e *Engine) baseImage(region geo.Region, regionStr string, bounds geo.Bounds, visual storage.VisualSettings, vhash string) (image.Image, error) {
	width, height := e.cfg.BaseWidth, geo.ImageHeight(bounds, e.cfg.BaseWidth)
	key := baseKey(regionStr, width, height, vhash)

	if img, ok := e.baseMem.Get(key); ok {
		metrics.MapCacheHits.WithLabelValues("base-mem").Inc()
		return img, nil
	}
	if img, ok := e.disk.Get(key); ok {
		metrics.MapCacheHits.WithLabelValues("base-disk").Inc()
		e.baseMem.Set(key, img)
		return img, nil
	}

	img, err := e.renderer.RenderBase(region, bounds, visual)
	if err != nil {
		return nil, err
	}
	e.baseMem.Set(key, img)
	if err := e.disk.Put(key, img); err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("base cache write failed")
	}
	return img, nil
}

func (e *Engine) withWorker(ctx context.Context, fn func() error) error {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
		return fn()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepBaseCache drops expired in-memory base images. Run by the
// retention task.
func (e *Engine) SweepBaseCache() int {
	return e.baseMem.Sweep()
}
