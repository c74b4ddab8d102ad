package service

import (
	"sort"
	"strings"
)

// ── 审查人推荐算法 ──────────────────────────────────────────
//
// 纯函数：输入候选池与约束，输出有序的推荐列表，不读写任何存储。
//
//   1. 过滤：可用、未对本提交声明冲突、不是提交者、不在本轮已有分配中
//   2. 连续性：重新提交时，上一轮的审查人（仍满足条件）优先
//   3. 排序：主题标签重合数降序 → 当前待审量升序 → reviewer_id 升序
//   4. 截取前 k 个；不足 k 时返回全部并置 Insufficient
// ─────────────────────────────────────────────────────────────

// Candidate 候选审查人
type Candidate struct {
	ReviewerID    string
	Name          string
	Available     bool
	ExpertiseTags []string
	PendingLoad   int
}

// SelectionInput 推荐输入
type SelectionInput struct {
	SubmitterID string
	TopicTags   []string
	Candidates  []Candidate
	// Conflicted 对本提交声明过冲突的审查人（任意轮次）
	Conflicted map[string]bool
	// Active 本轮已有 pending/completed 分配的审查人
	Active map[string]bool
	// Prior 以前轮次审查过本提交的审查人（连续性优先）
	Prior map[string]bool
	K     int
}

// RankedCandidate 推荐结果中的一项
type RankedCandidate struct {
	Candidate
	Overlap    int
	Continuity bool
}

// Proposal 推荐结果
type Proposal struct {
	Requested    int
	Selected     []RankedCandidate
	Insufficient bool
}

// ReviewerIDs 推荐的审查人 ID（按排名）
func (p Proposal) ReviewerIDs() []string {
	ids := make([]string, len(p.Selected))
	for i, c := range p.Selected {
		ids[i] = c.ReviewerID
	}
	return ids
}

// SelectReviewers 生成审查人推荐
func SelectReviewers(in SelectionInput) Proposal {
	proposal := Proposal{Requested: in.K}
	if in.K <= 0 {
		return proposal
	}

	topics := normalizeTags(in.TopicTags)

	seen := make(map[string]bool, len(in.Candidates))
	ranked := make([]RankedCandidate, 0, len(in.Candidates))
	for _, c := range in.Candidates {
		// 1. 过滤
		if c.ReviewerID == "" || seen[c.ReviewerID] {
			continue
		}
		seen[c.ReviewerID] = true
		if !c.Available ||
			c.ReviewerID == in.SubmitterID ||
			in.Conflicted[c.ReviewerID] ||
			in.Active[c.ReviewerID] {
			continue
		}
		ranked = append(ranked, RankedCandidate{
			Candidate:  c,
			Overlap:    tagOverlap(topics, c.ExpertiseTags),
			Continuity: in.Prior[c.ReviewerID],
		})
	}

	// 2 + 3. 连续性优先，其后按重合度、负载、ID 稳定排序
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Continuity != b.Continuity {
			return a.Continuity
		}
		if a.Overlap != b.Overlap {
			return a.Overlap > b.Overlap
		}
		if a.PendingLoad != b.PendingLoad {
			return a.PendingLoad < b.PendingLoad
		}
		return a.ReviewerID < b.ReviewerID
	})

	// 4. 截取
	if len(ranked) < in.K {
		proposal.Insufficient = true
		proposal.Selected = ranked
		return proposal
	}
	proposal.Selected = ranked[:in.K]
	return proposal
}

func normalizeTags(tags []string) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = true
		}
	}
	return set
}

func tagOverlap(topics map[string]bool, expertise []string) int {
	n := 0
	for t := range normalizeTags(expertise) {
		if topics[t] {
			n++
		}
	}
	return n
}
