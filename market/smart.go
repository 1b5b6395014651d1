package market

import (
	"errors"
	"math"
)

// ErrInvalidInput 参数不满足前置条件。
var ErrInvalidInput = errors.New("market: invalid input")

// SmartPriceParams 智能价格阈值（百分比），经验值，可配置。
type SmartPriceParams struct {
	Base    float64 // 累计占比超过该值且增速开始回落时取价，默认 1
	Ceiling float64 // 累计占比超过该值时无条件取价，默认 5
}

// DefaultSmartPriceParams 默认阈值。
func DefaultSmartPriceParams() SmartPriceParams {
	return SmartPriceParams{Base: 1, Ceiling: 5}
}

func (p SmartPriceParams) withDefaults() SmartPriceParams {
	d := DefaultSmartPriceParams()
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Ceiling <= 0 {
		p.Ceiling = d.Ceiling
	}
	if p.Ceiling < p.Base {
		p.Ceiling = p.Base
	}
	return p
}

// DefaultCleanKoef 判定作弊挂单的系数。
const DefaultCleanKoef = 7.0

// SmartPrice 从盘口一侧顶部向下累加数量，返回不被单笔薄挂单左右的参考价。
//
// 累计占比 share = cum / referenceTotal * 100。第一个满足 share > Base 且累计增长倍数
// cum_i/cum_{i-1} 低于上一档倍数的档位即为智能价；share > Ceiling 时无条件取该档。
// 遍历结束仍未命中则取最后一档。无档位或 referenceTotal<=0 时返回 0。
func SmartPrice(levels []Level, referenceTotal float64, params SmartPriceParams) float64 {
	if len(levels) == 0 || !(referenceTotal > 0) {
		return 0
	}
	params = params.withDefaults()

	var cum, prevCum float64
	prevGrowth := math.Inf(1)
	for i, l := range levels {
		cum += l.Amount
		share := cum / referenceTotal * 100
		if share > params.Ceiling {
			return l.Price
		}
		growth := math.Inf(1)
		if i > 0 && prevCum > 0 {
			growth = cum / prevCum
		}
		declining := i >= 2 && growth < prevGrowth
		if share > params.Base && declining {
			return l.Price
		}
		if i > 0 {
			prevGrowth = growth
		}
		prevCum = cum
	}
	return levels[len(levels)-1].Price
}

// CleanPrice 从顶部向智能价方向逐档检查，剔除疑似作弊挂单后的参考价。
//
// 对每档计算与智能价的距离 d（占智能价的百分比），若 share/d² < koef 则视为作弊挂单，
// 参考价推进到下一档；遇到正常挂单即停止，且永不越过智能价。
// asks 为 true 表示卖盘（价格升序）。smartPrice 必须为正数。
func CleanPrice(levels []Level, referenceTotal, smartPrice, koef float64, asks bool) (float64, error) {
	if !(smartPrice > 0) || math.IsInf(smartPrice, 0) {
		return 0, ErrInvalidInput
	}
	if len(levels) == 0 || !(referenceTotal > 0) {
		return smartPrice, nil
	}
	if koef <= 0 {
		koef = DefaultCleanKoef
	}
	beyond := func(price float64) bool {
		if asks {
			return price > smartPrice
		}
		return price < smartPrice
	}

	clean := levels[0].Price
	if beyond(clean) {
		return smartPrice, nil
	}
	var cum float64
	for i, l := range levels {
		cum += l.Amount
		d := math.Abs(l.Price-smartPrice) / smartPrice * 100
		if d == 0 || beyond(l.Price) {
			break
		}
		share := cum / referenceTotal * 100
		if share/(d*d) >= koef {
			break
		}
		// 作弊挂单：推进到下一档
		if i+1 >= len(levels) || beyond(levels[i+1].Price) {
			clean = smartPrice
			break
		}
		clean = levels[i+1].Price
	}
	return clean, nil
}
