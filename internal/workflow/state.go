// Package workflow 定义伦理审查提交的生命周期状态机。
//
// 本包是纯函数实现：不访问数据库、不读取时钟，只回答
// "从状态 S 出发，事件 E 是否合法，合法则进入哪个状态"。
// 守卫条件（审查人是否全部完成、修订文件是否齐全等）由 service 层
// 在事务内求值后通过 Guard 传入。
package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// State 提交状态
type State string

const (
	StateNewSubmission  State = "new_submission"
	StateClassified     State = "classified"
	StateUnderReview    State = "under_review"
	StateUnderRevision  State = "under_revision"
	StateReviewComplete State = "review_complete"
	StateRejected       State = "rejected"
)

// Event 状态迁移事件
type Event string

const (
	EventClassify        Event = "classify"
	EventAssignReviewers Event = "assign_reviewers"
	EventCompleteReview  Event = "complete_review"
	EventRequestRevision Event = "request_revision"
	EventResubmit        Event = "resubmit"
	EventRelease         Event = "release"
	EventReject          Event = "reject"
)

// AllStates 全部状态（按生命周期顺序）
var AllStates = []State{
	StateNewSubmission,
	StateClassified,
	StateUnderReview,
	StateUnderRevision,
	StateReviewComplete,
	StateRejected,
}

// AllEvents 全部事件
var AllEvents = []Event{
	EventClassify,
	EventAssignReviewers,
	EventCompleteReview,
	EventRequestRevision,
	EventResubmit,
	EventRelease,
	EventReject,
}

// ParseState 解析状态字符串
func ParseState(s string) (State, error) {
	st := State(strings.TrimSpace(s))
	for _, known := range AllStates {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("未知的提交状态: %q", s)
}

// ParseEvent 解析事件字符串
func ParseEvent(s string) (Event, error) {
	ev := Event(strings.TrimSpace(s))
	for _, known := range AllEvents {
		if ev == known {
			return ev, nil
		}
	}
	return "", fmt.Errorf("未知的迁移事件: %q", s)
}

// IsTerminal 是否为终态。review_complete 仍接受一次 release（由守卫保证只发布一次），
// 两个终态都不再接受 reject。
func (s State) IsTerminal() bool {
	return s == StateRejected || s == StateReviewComplete
}

// ── 迁移表 ──

type edge struct {
	from State
	ev   Event
}

// transitions 合法迁移表。reject 不在表内，由 Next 对所有非终态统一处理。
var transitions = map[edge]State{
	{StateNewSubmission, EventClassify}:      StateClassified,
	{StateClassified, EventAssignReviewers}:  StateUnderReview,
	{StateUnderReview, EventCompleteReview}:  StateReviewComplete,
	{StateUnderReview, EventRequestRevision}: StateUnderRevision,
	{StateUnderRevision, EventResubmit}:      StateClassified,
	{StateUnderReview, EventRelease}:         StateReviewComplete,
	{StateReviewComplete, EventRelease}:      StateReviewComplete,
}

// Next 计算迁移目标状态；非法迁移返回 *InvalidTransitionError
func Next(from State, ev Event) (State, error) {
	if ev == EventReject {
		if from.IsTerminal() {
			return "", newInvalid(from, ev, "")
		}
		if _, err := ParseState(string(from)); err != nil {
			return "", newInvalid(from, ev, "")
		}
		return StateRejected, nil
	}
	to, ok := transitions[edge{from, ev}]
	if !ok {
		return "", newInvalid(from, ev, "")
	}
	return to, nil
}

// Allowed 返回某状态下允许的事件（排序后返回，便于错误信息稳定）
func Allowed(from State) []Event {
	var out []Event
	for e := range transitions {
		if e.from == from {
			out = append(out, e.ev)
		}
	}
	if !from.IsTerminal() {
		if _, err := ParseState(string(from)); err == nil {
			out = append(out, EventReject)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CanFire 判断事件在当前状态下是否合法（不含守卫）
func CanFire(from State, ev Event) bool {
	_, err := Next(from, ev)
	return err == nil
}

// ── 守卫 ──

// Guard 守卫函数：返回 nil 表示通过，否则返回具体原因（如 ErrSelfReview）
type Guard func() error

// Fire 校验迁移合法性并依次执行守卫
// 守卫失败同样返回 *InvalidTransitionError，Cause 为守卫返回的具体错误
func Fire(from State, ev Event, guards ...Guard) (State, error) {
	to, err := Next(from, ev)
	if err != nil {
		return "", err
	}
	for _, g := range guards {
		if g == nil {
			continue
		}
		if gerr := g(); gerr != nil {
			ite := newInvalid(from, ev, gerr.Error())
			ite.Cause = gerr
			return "", ite
		}
	}
	return to, nil
}

// Exhausted 构造"事件在该提交上已用尽"的迁移错误（如已发布后再次 release）。
// 迁移表层面仍合法，但 Allowed 中不再列出该事件。
func Exhausted(from State, ev Event, cause error) *InvalidTransitionError {
	ite := newInvalid(from, ev, cause.Error())
	ite.Cause = cause
	allowed := ite.Allowed[:0]
	for _, a := range ite.Allowed {
		if a != ev {
			allowed = append(allowed, a)
		}
	}
	ite.Allowed = allowed
	return ite
}

// ── 错误 ──

// ErrInvalidTransition 非法状态迁移（errors.Is 匹配所有 *InvalidTransitionError）
var ErrInvalidTransition = errors.New("非法的状态迁移")

// InvalidTransitionError 携带当前状态、尝试的事件和允许的事件
type InvalidTransitionError struct {
	From    State
	Event   Event
	Allowed []Event
	Reason  string
	Cause   error
}

func newInvalid(from State, ev Event, reason string) *InvalidTransitionError {
	return &InvalidTransitionError{
		From:    from,
		Event:   ev,
		Allowed: Allowed(from),
		Reason:  reason,
	}
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, a := range e.Allowed {
		allowed = append(allowed, string(a))
	}
	msg := fmt.Sprintf("状态 %s 不允许事件 %s（允许: [%s]）", e.From, e.Event, strings.Join(allowed, ", "))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is 使 errors.Is(err, ErrInvalidTransition) 成立
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Unwrap 暴露守卫失败的具体原因
func (e *InvalidTransitionError) Unwrap() error {
	return e.Cause
}
