package indicators

import (
	"math"

	"futures-agent/internal/binance"
)

// Series helpers return one value per bar, NaN where the window is not yet
// filled. NaN inputs propagate so an undefined input never looks like zero.

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func closes(klines []binance.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

func volumes(klines []binance.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Volume
	}
	return out
}

// heikinAshi returns smoothed high, low and close series
func heikinAshi(klines []binance.Kline) (high, low, close []float64) {
	n := len(klines)
	high, low, close = make([]float64, n), make([]float64, n), make([]float64, n)
	for i, k := range klines {
		close[i] = (k.Open + k.High + k.Low + k.Close) / 4
		high[i] = math.Max(k.High, math.Max(k.Open, k.Close))
		low[i] = math.Min(k.Low, math.Min(k.Open, k.Close))
	}
	return high, low, close
}

func rawHLC(klines []binance.Kline) (high, low, close []float64) {
	n := len(klines)
	high, low, close = make([]float64, n), make([]float64, n), make([]float64, n)
	for i, k := range klines {
		high[i], low[i], close[i] = k.High, k.Low, k.Close
	}
	return high, low, close
}

// sma is the simple moving average
func sma(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		for j := i - period + 1; j <= i; j++ {
			sum += values[j]
		}
		out[i] = sum / float64(period)
	}
	return out
}

// ema is seeded with the SMA of the first period values
func ema(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	start := firstDefined(values)
	if period <= 0 || start < 0 || len(values)-start < period {
		return out
	}
	seed := 0.0
	for i := start; i < start+period; i++ {
		seed += values[i]
	}
	prev := seed / float64(period)
	out[start+period-1] = prev
	k := 2.0 / float64(period+1)
	for i := start + period; i < len(values); i++ {
		prev = values[i]*k + prev*(1-k)
		out[i] = prev
	}
	return out
}

// rma is Wilder's smoothing, the average used by RSI, ATR and ADX
func rma(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	start := firstDefined(values)
	if period <= 0 || start < 0 || len(values)-start < period {
		return out
	}
	seed := 0.0
	for i := start; i < start+period; i++ {
		seed += values[i]
	}
	prev := seed / float64(period)
	out[start+period-1] = prev
	for i := start + period; i < len(values); i++ {
		prev = (prev*float64(period-1) + values[i]) / float64(period)
		out[i] = prev
	}
	return out
}

func stddev(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	mean := sma(values, period)
	for i := period - 1; i < len(values); i++ {
		if math.IsNaN(mean[i]) {
			continue
		}
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mean[i]
			variance += d * d
		}
		out[i] = math.Sqrt(variance / float64(period))
	}
	return out
}

func rollingMax(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	for i := period - 1; i >= 0 && i < len(values); i++ {
		m := values[i-period+1]
		for j := i - period + 2; j <= i; j++ {
			m = math.Max(m, values[j])
		}
		out[i] = m
	}
	return out
}

func rollingMin(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	for i := period - 1; i >= 0 && i < len(values); i++ {
		m := values[i-period+1]
		for j := i - period + 2; j <= i; j++ {
			m = math.Min(m, values[j])
		}
		out[i] = m
	}
	return out
}

// trueRange is undefined on the first bar, which has no previous close
func trueRange(high, low, close []float64) []float64 {
	out := nanSeries(len(close))
	for i := 1; i < len(close); i++ {
		out[i] = math.Max(high[i]-low[i],
			math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))
	}
	return out
}

func atrSeries(high, low, close []float64, period int) []float64 {
	return rma(trueRange(high, low, close), period)
}

func rsiSeries(close []float64, period int) []float64 {
	n := len(close)
	gains, losses := nanSeries(n), nanSeries(n)
	for i := 1; i < n; i++ {
		change := close[i] - close[i-1]
		gains[i] = math.Max(change, 0)
		losses[i] = math.Max(-change, 0)
	}
	avgGain, avgLoss := rma(gains, period), rma(losses, period)

	out := nanSeries(n)
	for i := range out {
		g, l := avgGain[i], avgLoss[i]
		switch {
		case math.IsNaN(g) || math.IsNaN(l):
		case l == 0 && g == 0:
			out[i] = 50
		case l == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+g/l)
		}
	}
	return out
}

// adxSeries is Wilder's ADX from directional movement
func adxSeries(high, low, close []float64, period int) []float64 {
	n := len(close)
	plusDM, minusDM := nanSeries(n), nanSeries(n)
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		plusDM[i], minusDM[i] = 0, 0
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}
	atr := atrSeries(high, low, close, period)
	pdm, mdm := rma(plusDM, period), rma(minusDM, period)

	dx := nanSeries(n)
	for i := 0; i < n; i++ {
		if math.IsNaN(atr[i]) || math.IsNaN(pdm[i]) || atr[i] == 0 {
			continue
		}
		plusDI := 100 * pdm[i] / atr[i]
		minusDI := 100 * mdm[i] / atr[i]
		if sum := plusDI + minusDI; sum > 0 {
			dx[i] = 100 * math.Abs(plusDI-minusDI) / sum
		} else {
			dx[i] = 0
		}
	}
	return rma(dx, period)
}

// supertrendDirection returns +1/-1 per bar, 0 while ATR is undefined
func supertrendDirection(high, low, close []float64, period int, mult float64) []float64 {
	n := len(close)
	dir := make([]float64, n)
	atr := atrSeries(high, low, close, period)

	var upper, lower float64
	started := false
	for i := 0; i < n; i++ {
		if math.IsNaN(atr[i]) {
			continue
		}
		hl2 := (high[i] + low[i]) / 2
		curUpper := hl2 + mult*atr[i]
		curLower := hl2 - mult*atr[i]
		if !started {
			upper, lower, dir[i] = curUpper, curLower, 1
			started = true
			continue
		}

		switch {
		case close[i] > upper:
			dir[i] = 1
		case close[i] < lower:
			dir[i] = -1
		default:
			dir[i] = dir[i-1]
			if dir[i] > 0 && curLower < lower {
				curLower = lower
			}
			if dir[i] < 0 && curUpper > upper {
				curUpper = upper
			}
		}
		upper, lower = curUpper, curLower
	}
	return dir
}

func firstDefined(values []float64) int {
	for i, v := range values {
		if !math.IsNaN(v) {
			return i
		}
	}
	return -1
}

// at returns values[len-1-back], or def when missing or NaN
func at(values []float64, back int, def float64) float64 {
	i := len(values) - 1 - back
	if i < 0 || i >= len(values) || math.IsNaN(values[i]) {
		return def
	}
	return values[i]
}
