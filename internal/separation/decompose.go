package separation

import (
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/vitals.report/internal/dsp"
	"github.com/banshee-data/vitals.report/internal/vitalerr"
)

// Decomposer is the optional linear-algebra capability PCA and ICA need.
// A Selector built without one only offers CHROM.
type Decomposer interface {
	// Name identifies the backend in logs and errors.
	Name() string
	// Principal projects the observations (rows of x) onto their principal
	// axes. scores is n×k with columns ordered by decreasing variance.
	Principal(x mat.Matrix) (scores *mat.Dense, variances []float64, err error)
	// Independent whitens x and unmixes it into statistically independent
	// sources, returned as the columns of an n×k matrix.
	Independent(x mat.Matrix, seed int64, maxIter int) (*mat.Dense, error)
}

// ErrDecompositionFailed is returned when the factorisation does not converge.
var ErrDecompositionFailed = errors.New("decomposition failed")

// GonumDecomposer implements Decomposer on top of gonum's SVD-based PCA and
// a deflationary FastICA with a tanh contrast function.
type GonumDecomposer struct{}

// Name implements Decomposer.
func (GonumDecomposer) Name() string { return "gonum" }

// Principal implements Decomposer.
func (GonumDecomposer) Principal(x mat.Matrix) (*mat.Dense, []float64, error) {
	n, d := x.Dims()
	if n <= d {
		return nil, nil, vitalerr.InsufficientSamples(n, d+1)
	}
	var pc stat.PC
	if !pc.PrincipalComponents(x, nil) {
		return nil, nil, ErrDecompositionFailed
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	var scores mat.Dense
	scores.Mul(centerColumns(x), &vecs)
	return &scores, vars, nil
}

// Independent implements Decomposer.
func (g GonumDecomposer) Independent(x mat.Matrix, seed int64, maxIter int) (*mat.Dense, error) {
	scores, vars, err := g.Principal(x)
	if err != nil {
		return nil, err
	}
	if len(vars) == 0 || vars[0] <= dsp.Epsilon {
		return scores, nil
	}

	// Whiten: keep components with non-negligible variance, scale to unit variance.
	n, _ := scores.Dims()
	k := 0
	for _, v := range vars {
		if v > 1e-10*vars[0] {
			k++
		}
	}
	z := mat.NewDense(n, k, nil)
	col := make([]float64, n)
	for j := 0; j < k; j++ {
		mat.Col(col, j, scores)
		floats.Scale(1/math.Sqrt(vars[j]), col)
		z.SetCol(j, col)
	}
	return fastICA(z, seed, maxIter), nil
}

// fastICA runs one-unit FastICA per component with Gram-Schmidt deflation.
// z must be white (n observations × k unit-variance, uncorrelated columns).
func fastICA(z *mat.Dense, seed int64, maxIter int) *mat.Dense {
	const tol = 1e-6
	if maxIter <= 0 {
		maxIter = 200
	}
	n, k := z.Dims()
	rng := rand.New(rand.NewSource(seed))
	w := mat.NewDense(k, k, nil)
	proj := make([]float64, n)

	for c := 0; c < k; c++ {
		cur := make([]float64, k)
		for i := range cur {
			cur[i] = rng.NormFloat64()
		}
		deflate(cur, w, c)

		for iter := 0; iter < maxIter; iter++ {
			for i := 0; i < n; i++ {
				proj[i] = floats.Dot(z.RawRowView(i), cur)
			}
			next := make([]float64, k)
			var meanDeriv float64
			for i := 0; i < n; i++ {
				g := math.Tanh(proj[i])
				meanDeriv += 1 - g*g
				floats.AddScaled(next, g, z.RawRowView(i))
			}
			floats.Scale(1/float64(n), next)
			floats.AddScaled(next, -meanDeriv/float64(n), cur)
			deflate(next, w, c)

			converged := math.Abs(math.Abs(floats.Dot(next, cur))-1) < tol
			cur = next
			if converged {
				break
			}
		}
		w.SetRow(c, cur)
	}

	var sources mat.Dense
	sources.Mul(z, w.T())
	return &sources
}

// deflate removes from v its projection on the first c rows of w and
// rescales it to unit length.
func deflate(v []float64, w *mat.Dense, c int) {
	for p := 0; p < c; p++ {
		row := w.RawRowView(p)
		floats.AddScaled(v, -floats.Dot(v, row), row)
	}
	if norm := floats.Norm(v, 2); norm > dsp.Epsilon {
		floats.Scale(1/norm, v)
	}
}

func centerColumns(x mat.Matrix) *mat.Dense {
	n, d := x.Dims()
	out := mat.DenseCopyOf(x)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, out)
		floats.AddConst(-stat.Mean(col, nil), col)
		out.SetCol(j, col)
	}
	return out
}
