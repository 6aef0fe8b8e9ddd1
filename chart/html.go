package chart

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// HTMLEngine draws charts as standalone ECharts HTML pages, one file per
// surface, under a directory. Surfaces must be mounted before drawing.
type HTMLEngine struct {
	dir string

	mu       sync.Mutex
	surfaces map[string]struct{}
	charts   map[string]*htmlChart
}

var _ Engine = (*HTMLEngine)(nil)

func NewHTMLEngine(dir string) (*HTMLEngine, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &HTMLEngine{
		dir:      dir,
		surfaces: make(map[string]struct{}),
		charts:   make(map[string]*htmlChart),
	}, nil
}

// Mount makes a surface available for drawing.
func (e *HTMLEngine) Mount(surfaceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.surfaces[surfaceID] = struct{}{}
}

// Unmount removes a surface and destroys any chart bound to it.
func (e *HTMLEngine) Unmount(surfaceID string) {
	e.mu.Lock()
	c := e.charts[surfaceID]
	delete(e.surfaces, surfaceID)
	e.mu.Unlock()

	if c != nil {
		c.Destroy()
	}
}

func (e *HTMLEngine) HasSurface(surfaceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.surfaces[surfaceID]
	return ok
}

func (e *HTMLEngine) Lookup(surfaceID string) (Chart, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.charts[surfaceID]
	if !ok {
		return nil, false
	}
	return c, true
}

// Path returns the file a surface is drawn to.
func (e *HTMLEngine) Path(surfaceID string) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, surfaceID)
	return filepath.Join(e.dir, name+".html")
}

func (e *HTMLEngine) Draw(surfaceID string, kind Kind, spec Spec) (Chart, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.surfaces[surfaceID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrSurfaceNotFound, surfaceID)
	}
	if _, ok := e.charts[surfaceID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSurfaceInUse, surfaceID)
	}

	page, err := newEChart(surfaceID, kind, spec)
	if err != nil {
		return nil, err
	}

	path := e.Path(surfaceID)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create chart file: %w", err)
	}
	if err := page.Render(f); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("render chart: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	c := &htmlChart{engine: e, surfaceID: surfaceID, kind: kind, path: path}
	e.charts[surfaceID] = c
	return c, nil
}

type htmlChart struct {
	engine    *HTMLEngine
	surfaceID string
	kind      Kind
	path      string
}

func (c *htmlChart) SurfaceID() string { return c.surfaceID }
func (c *htmlChart) Kind() Kind        { return c.kind }
func (c *htmlChart) Path() string      { return c.path }

func (c *htmlChart) Destroy() error {
	e := c.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	// A stale handle must not tear down a newer chart on the same surface.
	if e.charts[c.surfaceID] != c {
		return nil
	}
	delete(e.charts, c.surfaceID)
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

type renderable interface {
	Render(w io.Writer) error
}

func newEChart(title string, kind Kind, spec Spec) (renderable, error) {
	titleOpts := charts.WithTitleOpts(opts.Title{Title: title})

	switch kind {
	case KindLine:
		line := charts.NewLine()
		line.SetGlobalOptions(titleOpts)
		line.SetXAxis(spec.Labels)
		for _, s := range spec.Series {
			data := make([]opts.LineData, len(s.Values))
			for i, v := range s.Values {
				data[i] = opts.LineData{Value: v}
			}
			line.AddSeries(s.Name, data, charts.WithItemStyleOpts(opts.ItemStyle{Color: firstColor(s)}))
		}
		return line, nil

	case KindBar:
		bar := charts.NewBar()
		bar.SetGlobalOptions(titleOpts)
		bar.SetXAxis(spec.Labels)
		for _, s := range spec.Series {
			data := make([]opts.BarData, len(s.Values))
			for i, v := range s.Values {
				data[i] = opts.BarData{Value: v}
			}
			bar.AddSeries(s.Name, data, charts.WithItemStyleOpts(opts.ItemStyle{Color: firstColor(s)}))
		}
		return bar, nil

	case KindPie, KindDoughnut:
		pie := charts.NewPie()
		pie.SetGlobalOptions(titleOpts)
		for _, s := range spec.Series {
			data := make([]opts.PieData, len(s.Values))
			for i, v := range s.Values {
				item := opts.PieData{Value: v}
				if i < len(spec.Labels) {
					item.Name = spec.Labels[i]
				}
				if i < len(s.Colors) {
					item.ItemStyle = &opts.ItemStyle{Color: s.Colors[i]}
				}
				data[i] = item
			}
			var seriesOpts []charts.SeriesOpts
			if kind == KindDoughnut {
				seriesOpts = append(seriesOpts, charts.WithPieChartOpts(opts.PieChart{Radius: []string{"40%", "70%"}}))
			}
			pie.AddSeries(s.Name, data, seriesOpts...)
		}
		return pie, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func firstColor(s Series) string {
	if len(s.Colors) == 0 {
		return SeriesColor(0)
	}
	return s.Colors[0]
}
