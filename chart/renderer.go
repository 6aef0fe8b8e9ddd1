package chart

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	ErrSurfaceInUse    = errors.New("surface already has a chart")
	ErrSurfaceNotFound = errors.New("surface not found")
)

// Chart is a live chart bound to a surface.
type Chart interface {
	SurfaceID() string
	Kind() Kind
	// Destroy releases the chart. Destroying an already destroyed chart is a no-op.
	Destroy() error
}

// Engine draws charts onto named surfaces and keeps a registry of the chart
// currently bound to each surface.
type Engine interface {
	HasSurface(surfaceID string) bool
	Lookup(surfaceID string) (Chart, bool)
	// Draw fails with ErrSurfaceInUse if a chart is still bound to the surface.
	Draw(surfaceID string, kind Kind, spec Spec) (Chart, error)
}

// Renderer binds charts to surfaces, guaranteeing at most one live chart per surface.
type Renderer struct {
	engine Engine

	mu      sync.Mutex
	handles map[string]Chart // surfaceID -> chart drawn by this renderer
}

func NewRenderer(engine Engine) *Renderer {
	return &Renderer{
		engine:  engine,
		handles: make(map[string]Chart),
	}
}

// Render draws records as a chart of the given kind on surfaceID.
// A missing surface is logged and skipped, not an error.
func (r *Renderer) Render(surfaceID string, records []*Record, kind Kind) error {
	spec, err := BuildSpec(records, kind)
	if err != nil {
		return err
	}

	if !r.engine.HasSurface(surfaceID) {
		slog.Warn("chart surface not found, skipping render", "surface", surfaceID, "kind", kind)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.destroyLocked(surfaceID)

	c, err := r.engine.Draw(surfaceID, kind, spec)
	if err != nil {
		return fmt.Errorf("draw %s chart on %s: %w", kind, surfaceID, err)
	}
	r.handles[surfaceID] = c
	slog.Debug("chart rendered", "surface", surfaceID, "kind", kind, "labels", len(spec.Labels), "series", len(spec.Series))
	return nil
}

// Destroy releases whatever chart is bound to surfaceID.
func (r *Renderer) Destroy(surfaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyLocked(surfaceID)
}

// Close destroys every chart this renderer drew. Call it when the view that
// owns the surfaces goes away.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.handles {
		r.destroyLocked(id)
	}
}

// destroyLocked checks both the local handle and the engine registry; the
// local handle goes stale when another renderer redraws the same surface.
// Caller must hold r.mu.
func (r *Renderer) destroyLocked(surfaceID string) {
	if c, ok := r.handles[surfaceID]; ok {
		delete(r.handles, surfaceID)
		if err := c.Destroy(); err != nil {
			slog.Debug("failed to destroy chart handle", "surface", surfaceID, "error", err)
		}
	}
	if c, ok := r.engine.Lookup(surfaceID); ok {
		if err := c.Destroy(); err != nil {
			slog.Debug("failed to destroy registered chart", "surface", surfaceID, "error", err)
		}
	}
}
