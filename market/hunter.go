package market

import "math"

// OwnOrder 调用方自己的挂单，用于从盘口中剔除。
type OwnOrder struct {
	Side   Side
	Price  float64
	Amount float64
}

// HunterLevel 报价猎手表的一行。
type HunterLevel struct {
	Price            float64
	Amount           float64 // 剔除自有挂单后的第三方数量
	CumulativeAmount float64
	CumulativeQuote  float64
	DropPercent      float64 // 相对第三方最高买价的跌幅
	Koef             float64 // CumulativeQuote / DropPercent²
	Optimal          bool
}

// QuoteHunter 计算对手在砸盘触发成交时最"划算"的目标价位。
//
// 买盘先按同价合并，再减去自有买单，只保留第三方挂单；对 price >= lowerBound 的档位
// 计算累计数量/金额及 koef，koef 最大的一档标记为 Optimal。顶档跌幅为 0，koef 记 0。
func QuoteHunter(bids []Level, own []OwnOrder, lowerBound float64) []HunterLevel {
	merged := MergeLevels(bids)
	for _, o := range own {
		if o.Side != SideBuy || o.Amount <= 0 {
			continue
		}
		for i := range merged {
			if samePrice(merged[i].Price, o.Price) {
				merged[i].Amount -= o.Amount
				break
			}
		}
	}

	third := make([]Level, 0, len(merged))
	for _, l := range merged {
		if l.Amount > amountEpsilon {
			third = append(third, l)
		}
	}
	if len(third) == 0 {
		return nil
	}

	top := third[0].Price
	table := make([]HunterLevel, 0, len(third))
	var cum, cumQuote float64
	optimal, best := -1, 0.0
	for _, l := range third {
		if l.Price < lowerBound {
			break
		}
		cum += l.Amount
		cumQuote += l.Amount * l.Price
		drop := (top - l.Price) / top * 100
		row := HunterLevel{
			Price:            l.Price,
			Amount:           l.Amount,
			CumulativeAmount: cum,
			CumulativeQuote:  cumQuote,
			DropPercent:      drop,
		}
		if drop > 0 {
			row.Koef = cumQuote / (drop * drop)
		}
		table = append(table, row)
		if row.Koef > best {
			best = row.Koef
			optimal = len(table) - 1
		}
	}
	if optimal >= 0 {
		table[optimal].Optimal = true
	}
	return table
}

const (
	amountEpsilon = 1e-12
	priceEpsilon  = 1e-9
)

func samePrice(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= priceEpsilon*scale
}
