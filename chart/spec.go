// Package chart turns loosely-typed analytics records into chart specs and
// keeps at most one live chart bound to each drawing surface.
package chart

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var ErrUnknownKind = errors.New("unknown chart kind")

// Kind is the chart type requested for a set of records.
type Kind string

const (
	KindLine     Kind = "line"
	KindBar      Kind = "bar"
	KindPie      Kind = "pie"
	KindDoughnut Kind = "doughnut"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindLine, KindBar, KindPie, KindDoughnut:
		return true
	default:
		return false
	}
}

// IsCategorical reports whether the kind draws one value per category
// (pie, doughnut) rather than series over periods.
func (k Kind) IsCategorical() bool {
	return k == KindPie || k == KindDoughnut
}

var (
	categoryLabelKeys = []string{"status", "type", "name", "label"}
	categoryValueKeys = []string{"count", "value", "percentage"}
	periodKeys        = []string{"month", "date", "period"}
)

// Series is one named run of values.
// Colors holds one color per value for categorical kinds, and a single
// color otherwise.
type Series struct {
	Name   string    `json:"name"`
	Field  string    `json:"field"`
	Values []float64 `json:"values"`
	Colors []string  `json:"colors"`
}

// Spec is the derived labels/series structure handed to an Engine.
type Spec struct {
	Labels []string `json:"labels"`
	Series []Series `json:"series"`
}

// BuildSpec derives a Spec from records. It is recomputed on every call
// because the field composition of records changes between responses.
//
// Series kinds discover their fields from the first record only; fields that
// appear only on later records are dropped.
func BuildSpec(records []*Record, kind Kind) (Spec, error) {
	if !kind.IsValid() {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if kind.IsCategorical() {
		return buildCategorical(records), nil
	}
	return buildSeries(records), nil
}

func buildCategorical(records []*Record) Spec {
	labels := make([]string, len(records))
	values := make([]float64, len(records))
	field := ""

	for i, r := range records {
		labels[i] = "Unknown"
		if v, _, ok := firstTruthy(r, categoryLabelKeys); ok {
			labels[i] = toLabel(v)
		}
		if v, key, ok := firstTruthy(r, categoryValueKeys); ok {
			values[i] = toNumber(v)
			if field == "" {
				field = key
			}
		}
	}

	name := "Count"
	if field != "" {
		name = DisplayName(field)
	}

	return Spec{
		Labels: labels,
		Series: []Series{{
			Name:   name,
			Field:  field,
			Values: values,
			Colors: CategoricalColors(len(values)),
		}},
	}
}

func buildSeries(records []*Record) Spec {
	labels := []string{}
	seen := make(map[string]bool)
	for _, r := range records {
		v, _, ok := firstTruthy(r, periodKeys)
		if !ok {
			continue
		}
		label := toLabel(v)
		if seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}

	spec := Spec{Labels: labels, Series: []Series{}}
	if len(records) == 0 || records[0] == nil {
		return spec
	}

	for pair := records[0].Oldest(); pair != nil; pair = pair.Next() {
		if isPeriodKey(pair.Key) {
			continue
		}
		values := make([]float64, len(records))
		for i, r := range records {
			if r == nil {
				continue
			}
			if v, ok := r.Get(pair.Key); ok {
				values[i] = toNumber(v)
			}
		}
		spec.Series = append(spec.Series, Series{
			Name:   DisplayName(pair.Key),
			Field:  pair.Key,
			Values: values,
			Colors: []string{SeriesColor(len(spec.Series))},
		})
	}
	return spec
}

func isPeriodKey(key string) bool {
	for _, k := range periodKeys {
		if k == key {
			return true
		}
	}
	return false
}

// DisplayName turns a record field key into a series label,
// e.g. "avg_efficiency" -> "Avg Efficiency".
func DisplayName(field string) string {
	// Casers keep state, so each call gets its own.
	return cases.Title(language.English).String(strings.ReplaceAll(field, "_", " "))
}

// KindFor picks the chart kind for a named chart in a query response:
// status breakdowns are doughnuts, trends are lines, everything else bars.
func KindFor(name string) Kind {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "status"):
		return KindDoughnut
	case strings.Contains(lower, "trend"):
		return KindLine
	default:
		return KindBar
	}
}

// SurfaceID names the surface a chart of message msgIndex is drawn on.
func SurfaceID(msgIndex int, name string) string {
	return fmt.Sprintf("%d-%s", msgIndex, name)
}
