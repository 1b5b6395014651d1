package market

import (
	"math"

	"liquidity-maker-go/internal/xrand"
)

// Options 计算盘口指标的可选参数，零值即默认。
type Options struct {
	CustomSpreadPercent float64 // 自定义流动性带宽（百分比，±一半）
	TargetPrice         float64 // 计算推动盘口到该价所需的数量
	PlacedAmount        float64 // 调用方已在目标价挂出的数量
	OwnOrders           []OwnOrder
	HunterLowerBound    float64
	SmartPrice          SmartPriceParams
	CleanKoef           float64
}

// LiquidityBand 平均价 ±Percent/2 范围内的挂单汇总；Percent 为 0 表示全簿。
type LiquidityBand struct {
	Percent     float64
	LowPrice    float64
	HighPrice   float64
	BidAmount   float64
	BidQuote    float64
	AskAmount   float64
	AskQuote    float64
	TotalAmount float64
	TotalQuote  float64
	Disbalance  float64 // 买盘数量占比（百分比）
}

// Metrics 每个周期重新计算的盘口指标。
type Metrics struct {
	HighestBid    float64
	LowestAsk     float64
	Spread        float64
	SpreadPercent float64
	AveragePrice  float64
	BidsCount     int
	AsksCount     int

	// 价差内的随机化参考价，避免策略锚定在可预测的价格上
	DowntrendPrice float64
	UptrendPrice   float64
	MiddlePrice    float64

	Custom    LiquidityBand
	Percent2  LiquidityBand
	Percent5  LiquidityBand
	Percent10 LiquidityBand
	Percent50 LiquidityBand
	Full      LiquidityBand

	SmartBid float64
	SmartAsk float64
	CleanBid float64
	CleanAsk float64

	TargetPriceSide                Side
	AmountTargetPrice              float64
	AmountTargetPriceQuote         float64
	AmountTargetPriceExcluded      float64
	AmountTargetPriceQuoteExcluded float64

	QuoteHunter []HunterLevel
}

// OptimalHunter 返回报价猎手表中标记为 Optimal 的一行。
func (m *Metrics) OptimalHunter() (HunterLevel, bool) {
	for _, row := range m.QuoteHunter {
		if row.Optimal {
			return row, true
		}
	}
	return HunterLevel{}, false
}

// Analyze 计算快照的全部指标。快照为空、单边为空或交叉时返回 (nil, false)，调用方应跳过本周期。
func Analyze(s *Snapshot, opts Options, rnd xrand.Source) (*Metrics, bool) {
	if !s.Valid() {
		return nil, false
	}
	if rnd == nil {
		rnd = xrand.New()
	}

	bid := s.Bids[0].Price
	ask := s.Asks[0].Price
	avg := (bid + ask) / 2
	spread := ask - bid

	m := &Metrics{
		HighestBid:    bid,
		LowestAsk:     ask,
		Spread:        spread,
		SpreadPercent: spread / avg * 100,
		AveragePrice:  avg,
		BidsCount:     len(s.Bids),
		AsksCount:     len(s.Asks),
	}

	m.DowntrendPrice = bid + spread*xrand.Between(rnd, 0.1, 0.45)
	m.UptrendPrice = ask - spread*xrand.Between(rnd, 0.1, 0.45)
	m.MiddlePrice = bid + spread*xrand.Between(rnd, 0.35, 0.65)

	m.Custom = bandTotals(s, avg, opts.CustomSpreadPercent)
	m.Percent2 = bandTotals(s, avg, 2)
	m.Percent5 = bandTotals(s, avg, 5)
	m.Percent10 = bandTotals(s, avg, 10)
	m.Percent50 = bandTotals(s, avg, 50)
	m.Full = bandTotals(s, avg, 0)

	m.SmartBid = SmartPrice(s.Bids, m.Full.BidAmount, opts.SmartPrice)
	m.SmartAsk = SmartPrice(s.Asks, m.Full.AskAmount, opts.SmartPrice)
	var err error
	if m.CleanBid, err = CleanPrice(s.Bids, m.Full.BidAmount, m.SmartBid, opts.CleanKoef, false); err != nil {
		return nil, false
	}
	if m.CleanAsk, err = CleanPrice(s.Asks, m.Full.AskAmount, m.SmartAsk, opts.CleanKoef, true); err != nil {
		return nil, false
	}

	if opts.TargetPrice > 0 {
		m.targetPriceAmounts(s, opts.TargetPrice, opts.PlacedAmount)
	}
	if len(opts.OwnOrders) > 0 {
		m.QuoteHunter = QuoteHunter(s.Bids, opts.OwnOrders, opts.HunterLowerBound)
	}

	if math.IsNaN(m.SpreadPercent) || math.IsInf(m.SpreadPercent, 0) {
		return nil, false
	}
	return m, true
}

// targetPriceAmounts 目标价高于均价时累加需要吃掉的卖盘，否则累加买盘。
func (m *Metrics) targetPriceAmounts(s *Snapshot, target, placed float64) {
	levels := s.Bids
	reached := func(p float64) bool { return p >= target || samePrice(p, target) }
	m.TargetPriceSide = SideSell
	if target >= m.AveragePrice {
		levels = s.Asks
		reached = func(p float64) bool { return p <= target || samePrice(p, target) }
		m.TargetPriceSide = SideBuy
	}
	for _, l := range levels {
		if !reached(l.Price) {
			break
		}
		amount := l.Amount
		if samePrice(l.Price, target) {
			amount = math.Max(0, amount-placed)
		} else {
			m.AmountTargetPriceExcluded += l.Amount
			m.AmountTargetPriceQuoteExcluded += l.Amount * l.Price
		}
		m.AmountTargetPrice += amount
		m.AmountTargetPriceQuote += amount * l.Price
	}
}

func bandTotals(s *Snapshot, avg, percent float64) LiquidityBand {
	b := LiquidityBand{Percent: percent}
	if percent > 0 {
		b.LowPrice = avg * (1 - percent/200)
		b.HighPrice = avg * (1 + percent/200)
	} else {
		b.LowPrice = s.Bids[len(s.Bids)-1].Price
		b.HighPrice = s.Asks[len(s.Asks)-1].Price
	}
	for _, l := range s.Bids {
		if l.Price < b.LowPrice {
			break
		}
		b.BidAmount += l.Amount
		b.BidQuote += l.Amount * l.Price
	}
	for _, l := range s.Asks {
		if l.Price > b.HighPrice {
			break
		}
		b.AskAmount += l.Amount
		b.AskQuote += l.Amount * l.Price
	}
	b.TotalAmount = b.BidAmount + b.AskAmount
	b.TotalQuote = b.BidQuote + b.AskQuote
	b.Disbalance = DisbalancePercent(b.BidAmount, b.AskAmount)
	return b
}
