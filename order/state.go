package order

import (
	"time"

	"liquidity-maker-go/market"
)

// Purpose 订单用途，决定由哪个策略管理。
type Purpose string

const (
	PurposeLiquidity  Purpose = "liquidity"
	PurposeDepth      Purpose = "depth"
	PurposePriceMaker Purpose = "pricemaker"
	PurposeManual     Purpose = "manual"
)

// SubPurposeSupport 流动性策略在买一/卖一内侧维持的支撑单。
const SubPurposeSupport = "support"

// State 本地记录的生命周期状态。
type State string

const (
	StateOpen            State = "open"
	StatePartiallyFilled State = "partiallyFilled"
	StateFilled          State = "filled"
	StateCancelled       State = "cancelled"
	StateExpired         State = "expired"
	StateOutOfRange      State = "outOfRange"
	StateUnknown         State = "unknown"
)

// Record 机器人下出的一笔订单。
// 下单成功后创建，终态后保留不删除；只有对账器和所属策略会修改它。
type Record struct {
	ID          string      `json:"id"`
	Pair        string      `json:"pair"`
	Side        market.Side `json:"side"`
	Purpose     Purpose     `json:"purpose"`
	SubPurpose  string      `json:"sub_purpose,omitempty"`
	Price       float64     `json:"price"`
	BaseAmount  float64     `json:"base_amount"`
	QuoteAmount float64     `json:"quote_amount"`
	Remaining   float64     `json:"remaining"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	State       State       `json:"state"`
	Closed      bool        `json:"closed"`
	NotFound    bool        `json:"not_found"`
}

// Update 在内存中修改记录，持久化需调用 Store.Save。
func (r *Record) Update(fn func(*Record)) {
	fn(r)
}

// Active 记录仍在交易所挂着（或状态未确认）。
func (r *Record) Active() bool {
	return !r.Closed
}

// Expired 到期时间非零且已过。
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// IsSupport 流动性支撑单。
func (r *Record) IsSupport() bool {
	return r.SubPurpose == SubPurposeSupport
}

// Clone 返回副本。
func (r *Record) Clone() *Record {
	c := *r
	return &c
}
