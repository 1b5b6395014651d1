package order

import (
	"fmt"
)

// StateTransition 状态转换
type StateTransition struct {
	From State
	To   State
}

// StateMachine 订单记录状态机。构造后只读，可并发使用。
type StateMachine struct {
	transitions map[StateTransition]bool
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

func (sm *StateMachine) initializeTransitions() {
	closing := []State{StateFilled, StateCancelled, StateExpired, StateOutOfRange, StateUnknown}

	sm.transitions[StateTransition{StateOpen, StatePartiallyFilled}] = true
	for _, to := range closing {
		sm.transitions[StateTransition{StateOpen, to}] = true
		sm.transitions[StateTransition{StatePartiallyFilled, to}] = true
	}
	// 终态不能转换
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to State) error {
	// 相同状态允许（幂等性）
	if from == to {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}

// AllowedTransitions 返回当前状态所有合法的目标状态
func (sm *StateMachine) AllowedTransitions(current State) []State {
	allowed := make([]State, 0)
	for transition := range sm.transitions {
		if transition.From == current {
			allowed = append(allowed, transition.To)
		}
	}
	return allowed
}

// IsFinalState 判断是否是终态
func (sm *StateMachine) IsFinalState(state State) bool {
	switch state {
	case StateFilled, StateCancelled, StateExpired, StateOutOfRange, StateUnknown:
		return true
	default:
		return false
	}
}

// GetStateDescription 获取状态描述
func (sm *StateMachine) GetStateDescription(state State) string {
	descriptions := map[State]string{
		StateOpen:            "订单挂单中",
		StatePartiallyFilled: "订单部分成交",
		StateFilled:          "订单完全成交",
		StateCancelled:       "订单已撤销",
		StateExpired:         "订单已过期",
		StateOutOfRange:      "订单超出价格范围",
		StateUnknown:         "订单状态未知",
	}

	if desc, ok := descriptions[state]; ok {
		return desc
	}
	return "未知状态"
}
