package abtest

import "math"

// ConfidenceInterval is a two-sided interval around a sample mean.
type ConfidenceInterval struct {
	Low  float64
	High float64
}

// VariantStats summarizes one variant's observed metric sample.
type VariantStats struct {
	Variant string
	N       int
	Mean    float64
	StdDev  float64
	CI      ConfidenceInterval
}

// Analysis is the outcome of comparing two variants' primary metric.
type Analysis struct {
	Variants       []VariantStats
	PValue         float64
	EffectSize     float64
	Winner         string
	Significant    bool
	InsufficientData bool
	Summary        string
}

// Analyze computes per-variant stats and a Welch's t-test comparison
// between variantA and variantB, declaring significance only when both
// reach minSampleSize.
func (e *Engine) Analyze(experimentID, variantA, variantB string, minSampleSize int, significanceLevel float64) (*Analysis, error) {
	valuesA, err := e.store.QueryMetricValues(experimentID, variantA)
	if err != nil {
		return nil, err
	}
	valuesB, err := e.store.QueryMetricValues(experimentID, variantB)
	if err != nil {
		return nil, err
	}

	statsA := summarize(variantA, valuesA, significanceLevel)
	statsB := summarize(variantB, valuesB, significanceLevel)

	result := &Analysis{Variants: []VariantStats{statsA, statsB}}

	if statsA.N < minSampleSize || statsB.N < minSampleSize {
		result.InsufficientData = true
		result.Summary = "insufficient data"
		return result, nil
	}

	t, df := welchTStat(statsA, statsB)
	p := twoTailedPValue(t, df)
	result.PValue = p
	result.EffectSize = statsA.Mean - statsB.Mean

	if p < significanceLevel {
		result.Significant = true
		if statsA.Mean > statsB.Mean {
			result.Winner = variantA
		} else {
			result.Winner = variantB
		}
		result.Summary = "significant difference"
	} else {
		result.Summary = "no significant difference"
	}

	return result, nil
}

func summarize(variant string, values []float64, significanceLevel float64) VariantStats {
	n := len(values)
	if n == 0 {
		return VariantStats{Variant: variant}
	}
	m := meanOf(values)
	sd := stdDevOf(values, m)
	return VariantStats{
		Variant: variant, N: n, Mean: m, StdDev: sd,
		CI: confidenceInterval(m, sd, n, significanceLevel),
	}
}

// confidenceInterval computes the two-sided (1-significanceLevel) interval
// around mean using the single-sample t-distribution with n-1 degrees of
// freedom, reusing the Welch machinery's twoTailedPValue to locate the
// critical t-value by bisection.
func confidenceInterval(mean, stdDev float64, n int, significanceLevel float64) ConfidenceInterval {
	if n < 2 {
		return ConfidenceInterval{Low: mean, High: mean}
	}
	se := stdDev / math.Sqrt(float64(n))
	margin := tCriticalValue(float64(n-1), significanceLevel) * se
	return ConfidenceInterval{Low: mean - margin, High: mean + margin}
}

// tCriticalValue finds the t such that twoTailedPValue(t, df) == alpha, via
// bisection — twoTailedPValue is monotonically decreasing in t for t >= 0.
func tCriticalValue(df, alpha float64) float64 {
	if df <= 0 {
		return 0
	}
	lo, hi := 0.0, 1000.0
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2
		if twoTailedPValue(mid, df) > alpha {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

func meanOf(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stdDevOf(vals []float64, mean float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range vals {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(vals)-1))
}

// welchTStat computes Welch's t-statistic and the Welch-Satterthwaite
// approximate degrees of freedom for two independent samples. When both
// samples have zero variance, t is +Inf or -Inf by the sign of the mean
// difference, and 0 when the means are equal.
func welchTStat(a, b VariantStats) (t, df float64) {
	varA := a.StdDev * a.StdDev
	varB := b.StdDev * b.StdDev
	seA := varA / float64(a.N)
	seB := varB / float64(b.N)
	se := math.Sqrt(seA + seB)
	if se == 0 {
		switch {
		case a.Mean > b.Mean:
			return math.Inf(1), float64(a.N + b.N - 2)
		case a.Mean < b.Mean:
			return math.Inf(-1), float64(a.N + b.N - 2)
		}
		return 0, float64(a.N + b.N - 2)
	}
	t = (a.Mean - b.Mean) / se

	num := (seA + seB) * (seA + seB)
	den := (seA*seA)/float64(a.N-1) + (seB*seB)/float64(b.N-1)
	if den == 0 {
		return t, float64(a.N + b.N - 2)
	}
	df = num / den
	return t, df
}

// twoTailedPValue computes the two-tailed p-value for a t-statistic with the
// given degrees of freedom as the regularized incomplete beta
// I_x(df/2, 1/2) with x = df/(df+t²), evaluated by continued fraction.
func twoTailedPValue(t, df float64) float64 {
	if df <= 0 {
		return 1.0
	}
	x := df / (df + t*t)
	p := incompleteBeta(x, df/2, 0.5)
	if p > 1 {
		p = 1
	}
	if p < 0 {
		p = 0
	}
	return p
}

// incompleteBeta is a continued-fraction approximation of the regularized
// incomplete beta function, sufficient for the two-tailed t-test p-value.
func incompleteBeta(x, a, b float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	lbeta := lgamma(a) + lgamma(b) - lgamma(a+b)
	front := math.Exp(math.Log(x)*a + math.Log(1-x)*b - lbeta)

	if x < (a+1)/(a+b+2) {
		return front * betaContinuedFraction(x, a, b) / a
	}
	return 1 - front*betaContinuedFraction(1-x, b, a)/b
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

func betaContinuedFraction(x, a, b float64) float64 {
	const maxIter = 200
	const eps = 3e-12

	qab := a + b
	qap := a + 1
	qam := a - 1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < 1e-30 {
		d = 1e-30
	}
	d = 1 / d
	h := d

	for m := 1; m <= maxIter; m++ {
		fm := float64(m)
		m2 := 2 * fm

		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < 1e-30 {
			d = 1e-30
		}
		c = 1 + aa/c
		if math.Abs(c) < 1e-30 {
			c = 1e-30
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < 1e-30 {
			d = 1e-30
		}
		c = 1 + aa/c
		if math.Abs(c) < 1e-30 {
			c = 1e-30
		}
		d = 1 / d
		delta := d * c
		h *= delta

		if math.Abs(delta-1) < eps {
			break
		}
	}
	return h
}
