package indicators

import (
	"math"
	"time"

	"futures-agent/internal/binance"
)

// Params holds indicator periods
type Params struct {
	ATRPeriod       int
	RSIPeriod       int
	RSISmoothing    int
	ADXPeriod       int
	FastTrendPeriod int
	FastTrendMult   float64
	SlowTrendPeriod int
	SlowTrendMult   float64
	BBPeriod        int
	BBStdDev        float64
	VolumePeriod    int
	DonchianWindow  int
	EMAPeriod       int
	ChopPeriod      int
	StochPeriod     int
	HeikinAshi      bool          // Smooth RSI, ADX, trends and bands with Heikin-Ashi candles
	BarDuration     time.Duration // Used to project the volume of the forming bar
}

// DefaultParams returns the periods used on 5m candles
func DefaultParams() Params {
	return Params{
		ATRPeriod:       14,
		RSIPeriod:       14,
		RSISmoothing:    3,
		ADXPeriod:       14,
		FastTrendPeriod: 10,
		FastTrendMult:   1.5,
		SlowTrendPeriod: 60,
		SlowTrendMult:   3.0,
		BBPeriod:        20,
		BBStdDev:        2.0,
		VolumePeriod:    20,
		DonchianWindow:  96,
		EMAPeriod:       200,
		ChopPeriod:      14,
		StochPeriod:     14,
		HeikinAshi:      true,
		BarDuration:     5 * time.Minute,
	}
}

// MinBars is the history needed before ADX on the confirmed bar is defined
func (p Params) MinBars() int {
	return 2*p.ADXPeriod + 2
}

// Snapshot is the immutable per-cycle indicator view of one symbol.
// Fields that cannot be computed hold neutral values.
type Snapshot struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Bars   int       `json:"bars"`
	Valid  bool      `json:"valid"`

	Price float64 `json:"price"`
	ATR   float64 `json:"atr"`

	RSI         float64 `json:"rsi"`
	SmoothedRSI float64 `json:"smoothed_rsi"`
	ADX         float64 `json:"adx"`
	PrevADX     float64 `json:"prev_adx"`

	FastTrend          int `json:"fast_trend"`
	SlowTrend          int `json:"slow_trend"`
	FastTrendConfirmed int `json:"fast_trend_confirmed"`
	SlowTrendConfirmed int `json:"slow_trend_confirmed"`
	FastTrendPrior     int `json:"fast_trend_prior"` // Bar before the confirmed bar

	BBUpper          float64 `json:"bb_upper"`
	BBLower          float64 `json:"bb_lower"`
	BBWidth          float64 `json:"bb_width"`
	BBWidthThreshold float64 `json:"bb_width_threshold"`

	Volume          float64 `json:"volume"`
	VolumeSMA       float64 `json:"volume_sma"`
	ProjectedVolume float64 `json:"projected_volume"`

	DonchianHigh float64 `json:"donchian_high"`
	DonchianLow  float64 `json:"donchian_low"`
	EMA200       float64 `json:"ema200"`
	Choppiness   float64 `json:"choppiness"`

	BodyRatio    float64 `json:"body_ratio"`
	VPAConfirmed bool    `json:"vpa_confirmed"`

	StochK     float64 `json:"stoch_k"`
	StochD     float64 `json:"stoch_d"`
	PrevStochK float64 `json:"prev_stoch_k"`
	PrevStochD float64 `json:"prev_stoch_d"`

	FundingRate float64 `json:"funding_rate"`
}

// ADXSlope is the change of ADX over the last bar
func (s Snapshot) ADXSlope() float64 {
	return s.ADX - s.PrevADX
}

// Neutral returns the snapshot used when there is no usable history
func Neutral(symbol string, price float64, now time.Time) Snapshot {
	return Snapshot{
		Symbol:       symbol,
		Time:         now,
		Price:        price,
		RSI:          50,
		SmoothedRSI:  50,
		DonchianHigh: price,
		DonchianLow:  price,
		EMA200:       price,
		Choppiness:   50,
		StochK:       50,
		StochD:       50,
		PrevStochK:   50,
		PrevStochD:   50,
	}
}

// Compute builds the snapshot from candles ordered oldest first. The last
// candle may still be forming. Compute never panics on short history.
func Compute(symbol string, klines []binance.Kline, p Params, now time.Time) Snapshot {
	n := len(klines)
	if n == 0 {
		return Neutral(symbol, 0, now)
	}
	last := klines[n-1]
	snap := Neutral(symbol, last.Close, now)
	snap.Bars = n
	snap.Valid = n >= p.MinBars()

	rawHigh, rawLow, rawClose := rawHLC(klines)
	calcHigh, calcLow, calcClose := rawHigh, rawLow, rawClose
	if p.HeikinAshi {
		calcHigh, calcLow, calcClose = heikinAshi(klines)
	}

	// Volatility always uses raw candles
	snap.ATR = at(atrSeries(rawHigh, rawLow, rawClose, p.ATRPeriod), 0, 0)

	rsi := rsiSeries(calcClose, p.RSIPeriod)
	snap.RSI = at(rsi, 0, 50)
	snap.SmoothedRSI = at(sma(rsi, p.RSISmoothing), 0, snap.RSI)

	adx := adxSeries(calcHigh, calcLow, calcClose, p.ADXPeriod)
	snap.ADX = at(adx, 0, 0)
	snap.PrevADX = at(adx, 1, snap.ADX)

	fast := supertrendDirection(calcHigh, calcLow, calcClose, p.FastTrendPeriod, p.FastTrendMult)
	slow := supertrendDirection(calcHigh, calcLow, calcClose, p.SlowTrendPeriod, p.SlowTrendMult)
	snap.FastTrend = int(at(fast, 0, 0))
	snap.SlowTrend = int(at(slow, 0, 0))
	snap.FastTrendConfirmed = int(at(fast, 1, 0))
	snap.SlowTrendConfirmed = int(at(slow, 1, 0))
	snap.FastTrendPrior = int(at(fast, 2, 0))

	computeBands(&snap, calcClose, p)
	computeVolume(&snap, klines, p, now)

	if p.DonchianWindow > 0 {
		// Previous bar so the forming candle cannot trigger its own breakout
		snap.DonchianHigh = at(rollingMax(rawHigh, p.DonchianWindow), 1, snap.Price)
		snap.DonchianLow = at(rollingMin(rawLow, p.DonchianWindow), 1, snap.Price)
	}
	snap.EMA200 = at(ema(rawClose, p.EMAPeriod), 0, snap.Price)
	snap.Choppiness = choppiness(rawHigh, rawLow, rawClose, p.ChopPeriod)

	if rng := last.High - last.Low; rng > 0 {
		snap.BodyRatio = math.Abs(last.Close-last.Open) / rng
	}
	snap.VPAConfirmed = snap.BodyRatio >= 0.5 && snap.ProjectedVolume >= snap.VolumeSMA

	computeStochRSI(&snap, rsi, p)
	return snap
}

func computeBands(snap *Snapshot, calcClose []float64, p Params) {
	mid := sma(calcClose, p.BBPeriod)
	sd := stddev(calcClose, p.BBPeriod)
	width := nanSeries(len(calcClose))
	for i := range calcClose {
		if math.IsNaN(mid[i]) || calcClose[i] == 0 {
			continue
		}
		width[i] = (2 * p.BBStdDev * sd[i]) / calcClose[i]
	}
	snap.BBUpper = at(mid, 0, 0) + p.BBStdDev*at(sd, 0, 0)
	snap.BBLower = at(mid, 0, 0) - p.BBStdDev*at(sd, 0, 0)
	if at(mid, 0, 0) == 0 {
		snap.BBUpper, snap.BBLower = 0, 0
	}
	snap.BBWidth = at(width, 0, 0)
	snap.BBWidthThreshold = at(sma(width, p.BBPeriod), 0, 0)
}

func computeVolume(snap *Snapshot, klines []binance.Kline, p Params, now time.Time) {
	vols := volumes(klines)
	last := klines[len(klines)-1]
	snap.Volume = last.Volume
	snap.VolumeSMA = at(sma(vols, p.VolumePeriod), 0, last.Volume)
	snap.ProjectedVolume = last.Volume

	if p.BarDuration <= 0 || last.OpenTime == 0 {
		return
	}
	elapsed := now.Sub(last.OpenAt())
	if elapsed <= 0 || elapsed >= p.BarDuration {
		return
	}
	// Very young bars are floored at 10% so a single trade cannot explode the projection
	fraction := math.Max(float64(elapsed)/float64(p.BarDuration), 0.1)
	snap.ProjectedVolume = last.Volume / fraction
}

// choppiness is the Choppiness Index of the last period bars
func choppiness(high, low, close []float64, period int) float64 {
	n := len(close)
	if period < 2 || n < period+1 {
		return 50
	}
	tr := trueRange(high, low, close)
	sum := 0.0
	hh, ll := high[n-period], low[n-period]
	for i := n - period; i < n; i++ {
		sum += tr[i]
		hh = math.Max(hh, high[i])
		ll = math.Min(ll, low[i])
	}
	if hh-ll <= 0 || sum <= 0 {
		return 50
	}
	return 100 * math.Log10(sum/(hh-ll)) / math.Log10(float64(period))
}

func computeStochRSI(snap *Snapshot, rsi []float64, p Params) {
	lo := rollingMin(rsi, p.StochPeriod)
	hi := rollingMax(rsi, p.StochPeriod)
	raw := nanSeries(len(rsi))
	for i := range rsi {
		if math.IsNaN(lo[i]) || math.IsNaN(hi[i]) || hi[i] == lo[i] {
			continue
		}
		raw[i] = (rsi[i] - lo[i]) / (hi[i] - lo[i])
	}
	k := sma(raw, 3)
	for i := range k {
		k[i] *= 100
	}
	d := sma(k, 3)
	snap.StochK = at(k, 0, 50)
	snap.StochD = at(d, 0, 50)
	snap.PrevStochK = at(k, 1, 50)
	snap.PrevStochD = at(d, 1, 50)
}
