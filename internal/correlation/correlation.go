package correlation

import (
	"encoding/json"
	"math"
	"sort"
)

// Pearson returns the correlation coefficient of the common prefix of a and b.
// Sequences shorter than two points yield 0. A constant prefix yields NaN.
func Pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	// raw sums: the 1/n factors cancel in the ratio
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	return cov / math.Sqrt(varA*varB)
}

type Matrix struct {
	Symbols []string
	index   map[string]int
	values  [][]float64
}

type Pair struct {
	A    string  `json:"a"`
	B    string  `json:"b"`
	Coef float64 `json:"coef"`
}

// Build computes the full matrix for symbols in the given order. Symbols
// without a series are correlated against an empty sequence.
func Build(symbols []string, series map[string][]float64) Matrix {
	m := Matrix{
		Symbols: append([]string(nil), symbols...),
		index:   make(map[string]int, len(symbols)),
		values:  make([][]float64, len(symbols)),
	}
	for i, s := range symbols {
		m.index[s] = i
		m.values[i] = make([]float64, len(symbols))
	}
	for i := range symbols {
		m.values[i][i] = 1
		for j := i + 1; j < len(symbols); j++ {
			r := Pearson(series[symbols[i]], series[symbols[j]])
			m.values[i][j] = r
			m.values[j][i] = r
		}
	}
	return m
}

// Get reports the coefficient for a pair. ok is false when either symbol is
// unknown or the coefficient is undefined.
func (m Matrix) Get(a, b string) (float64, bool) {
	i, okA := m.index[a]
	j, okB := m.index[b]
	if !okA || !okB {
		return 0, false
	}
	v := m.values[i][j]
	if math.IsNaN(v) {
		return v, false
	}
	return v, true
}

func (m Matrix) Len() int { return len(m.Symbols) }

// Pairs lists defined off-diagonal coefficients, strongest first.
func (m Matrix) Pairs() []Pair {
	var out []Pair
	for i := range m.Symbols {
		for j := i + 1; j < len(m.Symbols); j++ {
			v := m.values[i][j]
			if math.IsNaN(v) {
				continue
			}
			out = append(out, Pair{A: m.Symbols[i], B: m.Symbols[j], Coef: v})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Coef > out[j].Coef })
	return out
}

type matrixJSON struct {
	Symbols []string     `json:"symbols"`
	Values  [][]*float64 `json:"values"`
}

// MarshalJSON renders undefined cells as null.
func (m Matrix) MarshalJSON() ([]byte, error) {
	out := matrixJSON{
		Symbols: m.Symbols,
		Values:  make([][]*float64, len(m.values)),
	}
	if out.Symbols == nil {
		out.Symbols = []string{}
	}
	for i, row := range m.values {
		out.Values[i] = make([]*float64, len(row))
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			v := v
			out.Values[i][j] = &v
		}
	}
	return json.Marshal(out)
}
