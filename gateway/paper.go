package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"liquidity-maker-go/market"
)

// Op 纸面交易所的操作名，用于故障注入和调用计数。
type Op string

const (
	OpOrderBook  Op = "get_order_book"
	OpOpenOrders Op = "get_open_orders"
	OpBalances   Op = "get_balances"
	OpPlace      Op = "place_order"
	OpCancel     Op = "cancel_order"
)

// Paper 内存撮合的模拟交易所，用于 dry-run 和测试。
//
// 外部流动性保存在 market.OrderBook 中；自有挂单会出现在 GetOrderBook 的结果里，
// 新订单先与对手方向的自有挂单撮合，再吃外部流动性。成交价取挂单方价格。
// GetOpenOrders 也返回已完全成交但未撤销的订单，便于对账识别 filled 状态。
type Paper struct {
	mu       sync.Mutex
	books    map[string]*market.OrderBook
	orders   map[string]*paperOrder
	seq      []string
	balances map[string]*paperBalance
	infos    map[string]MarketInfo
	fail     map[Op]int
	calls    map[Op]int
	now      func() time.Time
}

type paperOrder struct {
	OpenOrder
	pair      Pair
	cancelled bool
	hidden    bool
}

type paperBalance struct {
	free   float64
	frozen float64
}

// SetClock 替换订单簿快照和订单使用的时间源。
func (p *Paper) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

func NewPaper() *Paper {
	return &Paper{
		books:    make(map[string]*market.OrderBook),
		orders:   make(map[string]*paperOrder),
		balances: make(map[string]*paperBalance),
		infos:    make(map[string]MarketInfo),
		fail:     make(map[Op]int),
		calls:    make(map[Op]int),
		now:      time.Now,
	}
}

// SetBook 替换某交易对的外部流动性。
func (p *Paper) SetBook(pair string, bids, asks []market.Level) {
	ob := market.NewOrderBook()
	bidDelta := make(map[float64]float64, len(bids))
	for _, l := range bids {
		bidDelta[l.Price] += l.Amount
	}
	askDelta := make(map[float64]float64, len(asks))
	for _, l := range asks {
		askDelta[l.Price] += l.Amount
	}
	ob.ApplyDelta(bidDelta, askDelta)

	p.mu.Lock()
	p.books[pair] = ob
	p.mu.Unlock()
}

// SetBalance 设置可用余额。
func (p *Paper) SetBalance(code string, free float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance(code).free = free
}

func (p *Paper) SetMarketInfo(info MarketInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.infos[info.Pair] = info
}

// FailNext 让接下来 n 次 op 调用返回 ErrTransient。
func (p *Paper) FailNext(op Op, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail[op] = n
}

// Calls 返回 op 被调用的次数（含失败）。
func (p *Paper) Calls(op Op) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Hide 使订单不再出现在 GetOpenOrders 中，模拟交易所列表与订单状态不一致。
func (p *Paper) Hide(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok := p.orders[id]; ok {
		o.hidden = true
	}
}

// Order 查询订单当前状态。
func (p *Paper) Order(id string) (OpenOrder, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return OpenOrder{}, false
	}
	return o.OpenOrder, true
}

// Fill 模拟外部吃单，按挂单价成交 amount。
func (p *Paper) Fill(id string, amount float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if o.cancelled || o.Status == StatusFilled {
		return fmt.Errorf("cannot fill order %s in %s state", id, o.Status)
	}
	p.settle(o, minFloat(amount, o.AmountLeft), o.Price)
	return nil
}

func (p *Paper) hit(op Op) error {
	p.calls[op]++
	if p.fail[op] > 0 {
		p.fail[op]--
		return fmt.Errorf("paper %s: %w", op, ErrTransient)
	}
	return nil
}

func (p *Paper) balance(code string) *paperBalance {
	b, ok := p.balances[code]
	if !ok {
		b = &paperBalance{}
		p.balances[code] = b
	}
	return b
}

func (p *Paper) GetOrderBook(_ context.Context, pair string) (*market.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.hit(OpOrderBook); err != nil {
		return nil, err
	}
	ext, ok := p.books[pair]
	if !ok {
		return nil, fmt.Errorf("order book %s: %w", pair, ErrNotFound)
	}
	now := p.now()
	base := ext.Snapshot(0, now)

	bids := make(map[float64]float64, len(base.Bids))
	asks := make(map[float64]float64, len(base.Asks))
	for _, l := range base.Bids {
		bids[l.Price] += l.Amount
	}
	for _, l := range base.Asks {
		asks[l.Price] += l.Amount
	}
	for _, id := range p.seq {
		o := p.orders[id]
		if o.OpenOrder.Pair != pair || !o.resting() {
			continue
		}
		if o.Side == market.SideBuy {
			bids[o.Price] += o.AmountLeft
		} else {
			asks[o.Price] += o.AmountLeft
		}
	}
	merged := market.NewOrderBook()
	merged.ApplyDelta(bids, asks)
	return merged.Snapshot(0, now), nil
}

func (p *Paper) GetOpenOrders(_ context.Context, pair string) ([]OpenOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.hit(OpOpenOrders); err != nil {
		return nil, err
	}
	out := make([]OpenOrder, 0)
	for _, id := range p.seq {
		o := p.orders[id]
		if o.OpenOrder.Pair != pair || o.cancelled || o.hidden {
			continue
		}
		out = append(out, o.OpenOrder)
	}
	return out, nil
}

func (p *Paper) GetBalances(_ context.Context) ([]Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.hit(OpBalances); err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(p.balances))
	for code, b := range p.balances {
		out = append(out, Balance{Code: code, Free: b.free, Frozen: b.frozen, Total: b.free + b.frozen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (p *Paper) GetMarketInfo(_ context.Context, pair string) (MarketInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.infos[pair]
	if !ok {
		return MarketInfo{}, fmt.Errorf("market info %s: %w", pair, ErrNotFound)
	}
	return info, nil
}

func (p *Paper) PlaceOrder(_ context.Context, req PlaceRequest) (PlaceResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.hit(OpPlace); err != nil {
		return PlaceResult{}, err
	}
	pair, err := ParsePair(req.Pair)
	if err != nil || !req.Side.Valid() || !(req.Price > 0) || !(req.Amount > 0) {
		return PlaceResult{Message: "invalid order parameters"}, nil
	}
	if info, ok := p.infos[req.Pair]; ok {
		if info.MinAmount > 0 && req.Amount < info.MinAmount {
			return PlaceResult{Message: "amount below minimum"}, nil
		}
		if info.MinQuote > 0 && req.Amount*req.Price < info.MinQuote {
			return PlaceResult{Message: "quote amount below minimum"}, nil
		}
	}

	code, need := pair.Quote, req.Price*req.Amount
	if req.Side == market.SideSell {
		code, need = pair.Base, req.Amount
	}
	bal := p.balance(code)
	if bal.free < need {
		return PlaceResult{Message: fmt.Sprintf("insufficient %s balance", code)}, nil
	}
	bal.free -= need
	bal.frozen += need

	o := &paperOrder{
		OpenOrder: OpenOrder{
			ID:         uuid.NewString(),
			Pair:       req.Pair,
			Side:       req.Side,
			Price:      req.Price,
			Amount:     req.Amount,
			AmountLeft: req.Amount,
			Status:     StatusNew,
		},
		pair: pair,
	}
	p.orders[o.ID] = o
	p.seq = append(p.seq, o.ID)
	p.match(o)
	return PlaceResult{OrderID: o.ID}, nil
}

func (p *Paper) CancelOrder(_ context.Context, id string, _ market.Side, _ string) (CancelOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.hit(OpCancel); err != nil {
		return CancelUnknown, err
	}
	o, ok := p.orders[id]
	if !ok || o.cancelled || o.Status == StatusFilled {
		return CancelGone, nil
	}
	o.cancelled = true
	o.Status = StatusClosed
	if o.Side == market.SideBuy {
		p.unfreeze(o.pair.Quote, o.Price*o.AmountLeft)
	} else {
		p.unfreeze(o.pair.Base, o.AmountLeft)
	}
	return CancelDone, nil
}

func (p *Paper) unfreeze(code string, amount float64) {
	b := p.balance(code)
	b.frozen -= amount
	b.free += amount
}

func (o *paperOrder) resting() bool {
	return !o.cancelled && o.AmountLeft > 0 && o.Status != StatusFilled
}

func (o *paperOrder) crosses(price float64) bool {
	if o.Side == market.SideBuy {
		return price <= o.Price
	}
	return price >= o.Price
}

// match 撮合新订单：先对手方向的自有挂单（价格优先、时间优先），再外部流动性。
func (p *Paper) match(taker *paperOrder) {
	makers := make([]*paperOrder, 0)
	for _, id := range p.seq {
		o := p.orders[id]
		if o == taker || o.OpenOrder.Pair != taker.OpenOrder.Pair || o.Side == taker.Side || !o.resting() {
			continue
		}
		if taker.crosses(o.Price) {
			makers = append(makers, o)
		}
	}
	sort.SliceStable(makers, func(i, j int) bool {
		if taker.Side == market.SideBuy {
			return makers[i].Price < makers[j].Price
		}
		return makers[i].Price > makers[j].Price
	})
	for _, m := range makers {
		if taker.AmountLeft <= 0 {
			return
		}
		qty := minFloat(taker.AmountLeft, m.AmountLeft)
		p.settle(m, qty, m.Price)
		p.settle(taker, qty, m.Price)
	}

	ext, ok := p.books[taker.OpenOrder.Pair]
	if !ok || taker.AmountLeft <= 0 {
		return
	}
	snap := ext.Snapshot(0, p.now())
	levels, bookSide := snap.Asks, market.SideSell
	if taker.Side == market.SideSell {
		levels, bookSide = snap.Bids, market.SideBuy
	}
	for _, l := range levels {
		if taker.AmountLeft <= 0 || !taker.crosses(l.Price) {
			return
		}
		qty := ext.Take(bookSide, l.Price, taker.AmountLeft)
		p.settle(taker, qty, l.Price)
	}
}

// settle 按 execPrice 成交 qty，买单按挂单价冻结，差额退回可用。
func (p *Paper) settle(o *paperOrder, qty, execPrice float64) {
	if qty <= 0 {
		return
	}
	base, quote := p.balance(o.pair.Base), p.balance(o.pair.Quote)
	if o.Side == market.SideBuy {
		quote.frozen -= o.Price * qty
		quote.free += (o.Price - execPrice) * qty
		base.free += qty
	} else {
		base.frozen -= qty
		quote.free += execPrice * qty
	}
	o.AmountLeft -= qty
	if o.AmountLeft <= 1e-12 {
		o.AmountLeft = 0
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
