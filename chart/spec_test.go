package chart

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestBuildSpec_Pie(t *testing.T) {
	records := []*Record{
		NewRecord("status", "Operational", "count", 45),
		NewRecord("status", "Critical", "count", 2),
	}

	spec, err := BuildSpec(records, KindPie)
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}

	if want := []string{"Operational", "Critical"}; !reflect.DeepEqual(spec.Labels, want) {
		t.Errorf("labels = %v, want %v", spec.Labels, want)
	}
	if len(spec.Series) != 1 {
		t.Fatalf("expected 1 series, got %d", len(spec.Series))
	}
	if want := []float64{45, 2}; !reflect.DeepEqual(spec.Series[0].Values, want) {
		t.Errorf("values = %v, want %v", spec.Series[0].Values, want)
	}
	if len(spec.Series[0].Colors) != 2 {
		t.Errorf("expected 2 colors, got %d", len(spec.Series[0].Colors))
	}
}

func TestBuildSpec_Line(t *testing.T) {
	records := []*Record{
		NewRecord("month", "Jan", "production", 12000),
		NewRecord("month", "Feb", "production", 13500),
	}

	spec, err := BuildSpec(records, KindLine)
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}

	if want := []string{"Jan", "Feb"}; !reflect.DeepEqual(spec.Labels, want) {
		t.Errorf("labels = %v, want %v", spec.Labels, want)
	}
	if len(spec.Series) != 1 {
		t.Fatalf("expected 1 series, got %d", len(spec.Series))
	}
	s := spec.Series[0]
	if s.Field != "production" {
		t.Errorf("field = %q, want %q", s.Field, "production")
	}
	if s.Name != "Production" {
		t.Errorf("name = %q, want %q", s.Name, "Production")
	}
	if want := []float64{12000, 13500}; !reflect.DeepEqual(s.Values, want) {
		t.Errorf("values = %v, want %v", s.Values, want)
	}
}

func TestBuildSpec_CategoricalFallbacks(t *testing.T) {
	tests := []struct {
		name      string
		record    *Record
		wantLabel string
		wantValue float64
	}{
		{"status wins over name", NewRecord("name", "B", "status", "A", "count", 1), "A", 1},
		{"type when no status", NewRecord("type", "Drill", "value", 3), "Drill", 3},
		{"label as last resort", NewRecord("label", "L", "percentage", 12.5), "L", 12.5},
		{"empty status falls through", NewRecord("status", "", "name", "N", "count", 4), "N", 4},
		{"zero count falls through to value", NewRecord("status", "S", "count", 0, "value", 7), "S", 7},
		{"nothing present", NewRecord("other", "x"), "Unknown", 0},
		{"numeric string value", NewRecord("status", "S", "count", "42"), "S", 42},
		{"non-numeric value", NewRecord("status", "S", "count", "many"), "S", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := BuildSpec([]*Record{tt.record}, KindDoughnut)
			if err != nil {
				t.Fatalf("BuildSpec: %v", err)
			}
			if spec.Labels[0] != tt.wantLabel {
				t.Errorf("label = %q, want %q", spec.Labels[0], tt.wantLabel)
			}
			if got := spec.Series[0].Values[0]; got != tt.wantValue {
				t.Errorf("value = %v, want %v", got, tt.wantValue)
			}
		})
	}
}

func TestBuildSpec_SeriesLabelsDeduplicatedAndFiltered(t *testing.T) {
	records := []*Record{
		NewRecord("month", "2024-01", "incidents", 3),
		NewRecord("month", "", "incidents", 1),
		NewRecord("month", "2024-01", "incidents", 2),
		NewRecord("date", "2024-02", "incidents", 5),
		NewRecord("incidents", 9),
	}

	spec, err := BuildSpec(records, KindBar)
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}

	if want := []string{"2024-01", "2024-02"}; !reflect.DeepEqual(spec.Labels, want) {
		t.Errorf("labels = %v, want %v", spec.Labels, want)
	}
	// Values stay positional, one per record.
	if want := []float64{3, 1, 2, 5, 9}; !reflect.DeepEqual(spec.Series[0].Values, want) {
		t.Errorf("values = %v, want %v", spec.Series[0].Values, want)
	}
}

func TestBuildSpec_SeriesFieldsFromFirstRecordOnly(t *testing.T) {
	records := []*Record{
		NewRecord("month", "Jan", "avg_efficiency", 81.5, "output", 10),
		NewRecord("month", "Feb", "output", 12, "late_field", 99),
	}

	spec, err := BuildSpec(records, KindLine)
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}

	if len(spec.Series) != 2 {
		t.Fatalf("expected 2 series, got %d: %+v", len(spec.Series), spec.Series)
	}
	if spec.Series[0].Field != "avg_efficiency" || spec.Series[1].Field != "output" {
		t.Errorf("fields = [%s %s], want [avg_efficiency output]", spec.Series[0].Field, spec.Series[1].Field)
	}
	if spec.Series[0].Name != "Avg Efficiency" {
		t.Errorf("name = %q, want %q", spec.Series[0].Name, "Avg Efficiency")
	}
	if want := []float64{81.5, 0}; !reflect.DeepEqual(spec.Series[0].Values, want) {
		t.Errorf("avg_efficiency values = %v, want %v", spec.Series[0].Values, want)
	}
	if spec.Series[0].Colors[0] != SeriesColor(0) || spec.Series[1].Colors[0] != SeriesColor(1) {
		t.Errorf("series colors = %v %v", spec.Series[0].Colors, spec.Series[1].Colors)
	}
}

func TestBuildSpec_FieldOrderFollowsJSON(t *testing.T) {
	var records []*Record
	data := `[{"month":"Jan","zeta":1,"alpha":2,"mid":3}]`
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	spec, err := BuildSpec(records, KindLine)
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}

	var fields []string
	for _, s := range spec.Series {
		fields = append(fields, s.Field)
	}
	if want := []string{"zeta", "alpha", "mid"}; !reflect.DeepEqual(fields, want) {
		t.Errorf("fields = %v, want %v", fields, want)
	}
}

func TestBuildSpec_Empty(t *testing.T) {
	for _, kind := range []Kind{KindLine, KindBar, KindPie, KindDoughnut} {
		spec, err := BuildSpec(nil, kind)
		if err != nil {
			t.Fatalf("BuildSpec(%s): %v", kind, err)
		}
		if len(spec.Labels) != 0 {
			t.Errorf("%s: expected no labels, got %v", kind, spec.Labels)
		}
	}
}

func TestBuildSpec_UnknownKind(t *testing.T) {
	_, err := BuildSpec(nil, Kind("radar"))
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestCategoricalColors(t *testing.T) {
	if got := CategoricalColors(0); got != nil {
		t.Errorf("expected nil for 0, got %v", got)
	}

	eight := CategoricalColors(8)
	if !reflect.DeepEqual(eight, categoricalPalette) {
		t.Errorf("first 8 colors = %v, want palette %v", eight, categoricalPalette)
	}

	a := CategoricalColors(20)
	b := CategoricalColors(20)
	if !reflect.DeepEqual(a, b) {
		t.Error("expected deterministic colors for the same count")
	}
	seen := make(map[string]bool)
	for i, c := range a {
		if len(c) != 7 || c[0] != '#' {
			t.Errorf("color[%d] = %q, want #rrggbb", i, c)
		}
		seen[c] = true
	}
	if len(seen) < 18 {
		t.Errorf("expected mostly distinct colors, got %d distinct of 20", len(seen))
	}
}

func TestSeriesColorCycles(t *testing.T) {
	if SeriesColor(0) != SeriesColor(6) {
		t.Errorf("expected palette to cycle every 6: %s vs %s", SeriesColor(0), SeriesColor(6))
	}
	if SeriesColor(1) == SeriesColor(0) {
		t.Error("expected neighbouring series to differ")
	}
}
