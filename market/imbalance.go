package market

// DisbalancePercent 返回 a 在 a+b 中的占比（百分比）；两者皆为 0 时视为平衡，返回 50。
func DisbalancePercent(a, b float64) float64 {
	total := a + b
	if total <= 0 {
		return 50
	}
	return a / total * 100
}

// FixDisbalance 增加较小的一侧，使 DisbalancePercent(a, b) 恰好等于 target。
// target 必须在 (0, 100) 内，否则原样返回。
func FixDisbalance(a, b, target float64) (float64, float64) {
	if target <= 0 || target >= 100 {
		return a, b
	}
	current := DisbalancePercent(a, b)
	switch {
	case current > target:
		b = a * (100 - target) / target
	case current < target:
		a = b * target / (100 - target)
	}
	return a, b
}
