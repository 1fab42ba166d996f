package analysis

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// present drops the NaN cells of a column.
func present(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func numericColumns(columns []string, numeric map[string][]float64) []string {
	var out []string
	for _, c := range columns {
		if _, ok := numeric[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func summarize(columns []string, numeric map[string][]float64) []ColumnSummary {
	var out []ColumnSummary
	for _, c := range numericColumns(columns, numeric) {
		values := present(numeric[c])
		if len(values) == 0 {
			out = append(out, ColumnSummary{Name: c, Missing: len(numeric[c])})
			continue
		}
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		s := ColumnSummary{
			Name:    c,
			Count:   len(values),
			Missing: len(numeric[c]) - len(values),
			Min:     floats.Min(values),
			Max:     floats.Max(values),
			Median:  stat.Quantile(0.5, stat.Empirical, sorted, nil),
		}
		s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
		if len(values) < 2 {
			s.StdDev = 0
		}
		out = append(out, s)
	}
	return out
}

func outliers(columns []string, numeric map[string][]float64, threshold float64) []Outlier {
	var out []Outlier
	for _, c := range numericColumns(columns, numeric) {
		values := numeric[c]
		p := present(values)
		if len(p) < 2 {
			continue
		}
		mean, std := stat.MeanStdDev(p, nil)
		if std == 0 {
			continue
		}
		for row, v := range values {
			if math.IsNaN(v) {
				continue
			}
			z := stat.StdScore(v, mean, std)
			if math.Abs(z) >= threshold {
				out = append(out, Outlier{Row: row, Column: c, Value: v, ZScore: z})
			}
		}
	}
	return out
}

// standardized returns the complete rows of the numeric columns as z-scores,
// and the index of each returned row in the table.
func standardized(cols []string, numeric map[string][]float64) ([][]float64, []int) {
	if len(cols) == 0 {
		return nil, nil
	}
	means := make([]float64, len(cols))
	stds := make([]float64, len(cols))
	for i, c := range cols {
		means[i], stds[i] = stat.MeanStdDev(present(numeric[c]), nil)
		if stds[i] == 0 || math.IsNaN(stds[i]) {
			stds[i] = 1
		}
	}
	var points [][]float64
	var index []int
	n := len(numeric[cols[0]])
rows:
	for row := 0; row < n; row++ {
		p := make([]float64, len(cols))
		for i, c := range cols {
			v := numeric[c][row]
			if math.IsNaN(v) {
				continue rows
			}
			p[i] = (v - means[i]) / stds[i]
		}
		points = append(points, p)
		index = append(index, row)
	}
	return points, index
}

// kmeans clusters the complete rows with Lloyd's algorithm, seeded with
// evenly spaced rows. Rows with missing values are assigned -1.
func kmeans(columns []string, numeric map[string][]float64, k, iterations int) ([]Cluster, []int) {
	cols := numericColumns(columns, numeric)
	points, index := standardized(cols, numeric)
	if len(points) == 0 {
		return nil, nil
	}
	if k > len(points) {
		k = len(points)
	}
	centroids := make([][]float64, k)
	for i := range centroids {
		centroids[i] = append([]float64(nil), points[i*len(points)/k]...)
	}

	assign := make([]int, len(points))
	for it := 0; it < iterations; it++ {
		changed := it == 0
		for i, p := range points {
			best, bestDist := 0, math.Inf(1)
			for j, c := range centroids {
				if d := floats.Distance(p, c, 2); d < bestDist {
					best, bestDist = j, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		for j := range centroids {
			sum := make([]float64, len(cols))
			n := 0
			for i, p := range points {
				if assign[i] == j {
					floats.Add(sum, p)
					n++
				}
			}
			if n > 0 {
				floats.Scale(1/float64(n), sum)
				centroids[j] = sum
			}
		}
	}

	// centroids are reported in the original units
	clusters := make([]Cluster, k)
	assignments := make([]int, len(numeric[cols[0]]))
	for i := range assignments {
		assignments[i] = -1
	}
	for i, row := range index {
		assignments[row] = assign[i]
		clusters[assign[i]].Size++
	}
	for j := range clusters {
		clusters[j].Centroid = map[string]float64{}
		for _, c := range cols {
			var sum float64
			for p, row := range index {
				if assign[p] == j {
					sum += numeric[c][row]
				}
			}
			if clusters[j].Size > 0 {
				clusters[j].Centroid[c] = sum / float64(clusters[j].Size)
			}
		}
	}
	return clusters, assignments
}

// correlations returns the Pearson correlation of every pair of numeric
// columns over their complete rows, strongest first.
func correlations(columns []string, numeric map[string][]float64) []Correlation {
	cols := numericColumns(columns, numeric)
	var out []Correlation
	for i := 0; i < len(cols); i++ {
		for j := i + 1; j < len(cols); j++ {
			var x, y []float64
			for row, a := range numeric[cols[i]] {
				b := numeric[cols[j]][row]
				if math.IsNaN(a) || math.IsNaN(b) {
					continue
				}
				x = append(x, a)
				y = append(y, b)
			}
			if len(x) < 2 {
				continue
			}
			r := stat.Correlation(x, y, nil)
			if math.IsNaN(r) {
				continue
			}
			out = append(out, Correlation{A: cols[i], B: cols[j], Coefficient: r})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Coefficient) > math.Abs(out[j].Coefficient)
	})
	return out
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true, "by": true,
	"for": true, "from": true, "in": true, "is": true, "it": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "this": true, "to": true, "was": true, "were": true, "with": true,
}

// text counts the terms of the textual cells of tabular content, or of the
// whole content otherwise.
func text(data []byte, opts Options) *Report {
	r := &Report{Kind: Text, Completeness: 1}
	var corpus []string
	if t, err := ParseTable(data, opts.JSONPath); err == nil {
		r.Rows, r.Columns = len(t.Rows), len(t.Columns)
		numeric := t.Numeric()
		for i, c := range t.Columns {
			if _, ok := numeric[c]; ok {
				continue
			}
			for _, row := range t.Rows {
				corpus = append(corpus, row[i])
			}
		}
	} else {
		corpus = []string{string(data)}
	}

	counts := map[string]int{}
	for _, doc := range corpus {
		for _, w := range strings.FieldsFunc(strings.ToLower(doc), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		}) {
			r.Tokens++
			if len(w) < 2 || stopWords[w] {
				continue
			}
			counts[w]++
		}
	}
	for w, n := range counts {
		r.Terms = append(r.Terms, TermCount{Term: w, Count: n})
	}
	sort.Slice(r.Terms, func(i, j int) bool {
		if r.Terms[i].Count != r.Terms[j].Count {
			return r.Terms[i].Count > r.Terms[j].Count
		}
		return r.Terms[i].Term < r.Terms[j].Term
	})
	if len(r.Terms) > opts.TopTerms && opts.TopTerms > 0 {
		r.Terms = r.Terms[:opts.TopTerms]
	}
	return r
}
