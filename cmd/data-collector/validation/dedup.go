package validation

import (
	"fmt"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/shared"
	"strconv"
	"strings"
)

type xKey struct {
	kind shared.XKind
	num  float64
	text string
}

type xGroup struct {
	first shared.DataPoint
	ys    []float64
}

// Deduplicate collapses points that share an x value onto the first occurrence.
// The relative order of first occurrences is kept.
// If a shared x carries more than one distinct y the whole set is rejected,
// naming the first such x in input order.
func Deduplicate(points []shared.DataPoint) ([]shared.DataPoint, error) {
	order := make([]xKey, 0, len(points))
	groups := make(map[xKey]*xGroup, len(points))

	for _, p := range points {
		key := xKey{kind: p.X.Kind, num: p.X.Number, text: p.X.Text}
		g, seen := groups[key]
		if !seen {
			groups[key] = &xGroup{first: p, ys: []float64{p.Y}}
			order = append(order, key)
			continue
		}
		if !containsFloat(g.ys, p.Y) {
			g.ys = append(g.ys, p.Y)
		}
	}

	unique := make([]shared.DataPoint, 0, len(order))
	for _, key := range order {
		g := groups[key]
		if len(g.ys) > 1 {
			return nil, fmt.Errorf("Conflicting y values [%s] for x=%s", formatFloats(g.ys), g.first.X)
		}
		unique = append(unique, g.first)
	}
	return unique, nil
}

func containsFloat(values []float64, f float64) bool {
	for _, v := range values {
		if v == f {
			return true
		}
	}
	return false
}

func formatFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ", ")
}
