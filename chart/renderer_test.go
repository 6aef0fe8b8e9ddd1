package chart

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
)

// fakeEngine records draws and keeps a registry like a real canvas library.
type fakeEngine struct {
	mu        sync.Mutex
	surfaces  map[string]bool
	registry  map[string]*fakeChart
	draws     int
	destroyed int
}

func newFakeEngine(surfaces ...string) *fakeEngine {
	e := &fakeEngine{surfaces: make(map[string]bool), registry: make(map[string]*fakeChart)}
	for _, s := range surfaces {
		e.surfaces[s] = true
	}
	return e
}

func (e *fakeEngine) HasSurface(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.surfaces[id]
}

func (e *fakeEngine) Lookup(id string) (Chart, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.registry[id]
	if !ok {
		return nil, false
	}
	return c, true
}

func (e *fakeEngine) Draw(id string, kind Kind, spec Spec) (Chart, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.registry[id]; ok {
		return nil, ErrSurfaceInUse
	}
	c := &fakeChart{engine: e, id: id, kind: kind, spec: spec}
	e.registry[id] = c
	e.draws++
	return c, nil
}

func (e *fakeEngine) live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.registry)
}

type fakeChart struct {
	engine *fakeEngine
	id     string
	kind   Kind
	spec   Spec
}

func (c *fakeChart) SurfaceID() string { return c.id }
func (c *fakeChart) Kind() Kind        { return c.kind }

func (c *fakeChart) Destroy() error {
	e := c.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.registry[c.id] != c {
		return nil
	}
	delete(e.registry, c.id)
	e.destroyed++
	return nil
}

func statusRecords() []*Record {
	return []*Record{
		NewRecord("status", "Operational", "count", 45),
		NewRecord("status", "Critical", "count", 2),
	}
}

func TestRenderer_RerenderKeepsOneLiveChart(t *testing.T) {
	engine := newFakeEngine("1-equipment_status")
	r := NewRenderer(engine)

	for i := 0; i < 3; i++ {
		if err := r.Render("1-equipment_status", statusRecords(), KindDoughnut); err != nil {
			t.Fatalf("Render #%d: %v", i, err)
		}
		if n := engine.live(); n != 1 {
			t.Fatalf("after render #%d: live charts = %d, want 1", i, n)
		}
	}

	if engine.draws != 3 {
		t.Errorf("draws = %d, want 3", engine.draws)
	}
	if engine.destroyed != 2 {
		t.Errorf("destroyed = %d, want 2", engine.destroyed)
	}
}

func TestRenderer_StaleHandleStillClearsSurface(t *testing.T) {
	engine := newFakeEngine("s")
	first := NewRenderer(engine)
	second := NewRenderer(engine)

	if err := first.Render("s", statusRecords(), KindPie); err != nil {
		t.Fatalf("first Render: %v", err)
	}
	// second has no handle for "s", so it must find the chart via the registry.
	if err := second.Render("s", statusRecords(), KindPie); err != nil {
		t.Fatalf("second Render: %v", err)
	}
	if n := engine.live(); n != 1 {
		t.Fatalf("live charts = %d, want 1", n)
	}

	// first's handle is now stale; re-rendering through it must not fail.
	if err := first.Render("s", statusRecords(), KindBar); err != nil {
		t.Fatalf("stale Render: %v", err)
	}
	if n := engine.live(); n != 1 {
		t.Errorf("live charts = %d, want 1", n)
	}
	c, ok := engine.Lookup("s")
	if !ok || c.Kind() != KindBar {
		t.Errorf("expected bar chart bound to surface, got %v", c)
	}
}

func TestRenderer_MissingSurfaceSkipped(t *testing.T) {
	engine := newFakeEngine()
	r := NewRenderer(engine)

	if err := r.Render("nowhere", statusRecords(), KindPie); err != nil {
		t.Errorf("expected nil for missing surface, got %v", err)
	}
	if engine.draws != 0 {
		t.Errorf("draws = %d, want 0", engine.draws)
	}
}

func TestRenderer_UnknownKind(t *testing.T) {
	engine := newFakeEngine("s")
	r := NewRenderer(engine)

	err := r.Render("s", statusRecords(), Kind("radar"))
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestRenderer_DestroyAndClose(t *testing.T) {
	engine := newFakeEngine("a", "b", "c")
	r := NewRenderer(engine)

	for _, id := range []string{"a", "b", "c"} {
		if err := r.Render(id, statusRecords(), KindPie); err != nil {
			t.Fatalf("Render %s: %v", id, err)
		}
	}

	r.Destroy("a")
	if _, ok := engine.Lookup("a"); ok {
		t.Error("expected surface a to be cleared")
	}
	r.Destroy("a")

	r.Close()
	if n := engine.live(); n != 0 {
		t.Errorf("live charts after Close = %d, want 0", n)
	}
}

func TestHTMLEngine_DrawWritesFile(t *testing.T) {
	engine, err := NewHTMLEngine(t.TempDir())
	if err != nil {
		t.Fatalf("NewHTMLEngine: %v", err)
	}
	engine.Mount("0-production_trend")
	r := NewRenderer(engine)

	records := []*Record{
		NewRecord("month", "Jan", "production", 12000),
		NewRecord("month", "Feb", "production", 13500),
	}
	if err := r.Render("0-production_trend", records, KindLine); err != nil {
		t.Fatalf("Render: %v", err)
	}

	data, err := os.ReadFile(engine.Path("0-production_trend"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "Production") {
		t.Error("expected series name in rendered page")
	}
}

func TestHTMLEngine_DrawRejectsBoundSurface(t *testing.T) {
	engine, err := NewHTMLEngine(t.TempDir())
	if err != nil {
		t.Fatalf("NewHTMLEngine: %v", err)
	}
	engine.Mount("s")

	spec, _ := BuildSpec(statusRecords(), KindPie)
	if _, err := engine.Draw("s", KindPie, spec); err != nil {
		t.Fatalf("first Draw: %v", err)
	}
	if _, err := engine.Draw("s", KindPie, spec); !errors.Is(err, ErrSurfaceInUse) {
		t.Errorf("expected ErrSurfaceInUse, got %v", err)
	}
	if _, err := engine.Draw("unmounted", KindPie, spec); !errors.Is(err, ErrSurfaceNotFound) {
		t.Errorf("expected ErrSurfaceNotFound, got %v", err)
	}
}

func TestHTMLEngine_UnmountDestroysChart(t *testing.T) {
	engine, err := NewHTMLEngine(t.TempDir())
	if err != nil {
		t.Fatalf("NewHTMLEngine: %v", err)
	}
	engine.Mount("s")
	r := NewRenderer(engine)

	if err := r.Render("s", statusRecords(), KindDoughnut); err != nil {
		t.Fatalf("Render: %v", err)
	}
	path := engine.Path("s")

	engine.Unmount("s")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected chart file removed, stat err = %v", err)
	}
	if engine.HasSurface("s") {
		t.Error("expected surface to be gone")
	}

	// The renderer's handle is stale now; Close must still succeed.
	r.Close()
}

func TestKindForAndSurfaceID(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"equipment_status", KindDoughnut},
		{"production_trend", KindLine},
		{"incident_trends", KindLine},
		{"safety_by_site", KindBar},
	}
	for _, tt := range tests {
		if got := KindFor(tt.name); got != tt.want {
			t.Errorf("KindFor(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}

	if got := SurfaceID(3, "equipment_status"); got != "3-equipment_status" {
		t.Errorf("SurfaceID = %q", got)
	}
}
