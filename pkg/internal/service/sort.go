package service

import (
	"context"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/yeisme/treevault/pkg/configs"
	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/internal/repository"
	nlog "github.com/yeisme/treevault/pkg/log"
	"github.com/yeisme/treevault/pkg/metrics"
)

// 重排原因.
const (
	RebalanceNoGap   = "no_gap"
	RebalanceAtBegin = "at_begin"
)

// IsBeginSentinel 判断前驱 ID 是否表示"插入到最前".
func IsBeginSentinel(predecessorID string) bool {
	switch strings.TrimSpace(strings.ToLower(predecessorID)) {
	case "", "0", "-1", "null":
		return true
	default:
		return false
	}
}

// SortAllocator 在兄弟节点之间分配间隔排序值.
type SortAllocator struct {
	step   int64
	minGap int64
	nodes  NodeStore
	logger zerolog.Logger
}

// NewSortAllocator 创建排序分配器，非法配置回退到默认值.
func NewSortAllocator(cfg configs.SortConfig, nodes NodeStore) *SortAllocator {
	a := &SortAllocator{step: cfg.Step, minGap: cfg.MinGap, nodes: nodes, logger: nlog.Component("sort")}
	if a.step <= 0 {
		a.step = configs.DefaultSortStep
	}

	if a.minGap <= 0 {
		a.minGap = configs.DefaultSortMinGap
	}

	return a
}

// Step 返回排序步长.
func (a *SortAllocator) Step() int64 { return a.step }

// CalculateSortAfter 计算放在 predecessorID 之后的排序值，siblings 需按 sort 升序.
// 间隔不足时返回 needsRebalance = true.
func (a *SortAllocator) CalculateSortAfter(siblings []model.FileNode, predecessorID string) (int64, bool) {
	if len(siblings) == 0 {
		return a.step, false
	}

	if IsBeginSentinel(predecessorID) {
		first := siblings[0].Sort
		if first > a.minGap {
			return first / 2, false
		}

		return 0, true
	}

	idx := slices.IndexFunc(siblings, func(n model.FileNode) bool { return n.FileID == predecessorID })
	if idx < 0 || idx == len(siblings)-1 {
		// 前驱不存在或位于末尾：追加到最后
		return siblings[len(siblings)-1].Sort + a.step, false
	}

	prev, next := siblings[idx].Sort, siblings[idx+1].Sort
	if gap := next - prev; gap > a.minGap {
		return prev + gap/2, false
	}

	return 0, true
}

// Place 在事务内锁定父节点的全部子节点并计算插入位置，必要时整体重排.
// excludeID 为正在移动的节点，不参与计算.
func (a *SortAllocator) Place(ctx context.Context, projectID, parentID, predecessorID, excludeID string) (int64, error) {
	siblings, err := a.nodes.ListChildren(ctx, repository.ChildrenQuery{
		ProjectID: projectID,
		ParentID:  parentID,
		ExcludeID: excludeID,
		ForUpdate: true,
	})
	if err != nil {
		return 0, err
	}

	sort, rebalance := a.CalculateSortAfter(siblings, predecessorID)
	if !rebalance {
		return sort, nil
	}

	reason := RebalanceNoGap
	if IsBeginSentinel(predecessorID) {
		reason = RebalanceAtBegin
	}

	return a.rebalance(ctx, siblings, parentID, predecessorID, reason)
}

// Append 锁定兄弟节点后返回追加到末尾的排序值.
func (a *SortAllocator) Append(ctx context.Context, projectID, parentID, excludeID string) (int64, error) {
	siblings, err := a.nodes.ListChildren(ctx, repository.ChildrenQuery{
		ProjectID: projectID,
		ParentID:  parentID,
		ExcludeID: excludeID,
		ForUpdate: true,
	})
	if err != nil {
		return 0, err
	}

	if len(siblings) == 0 {
		return a.step, nil
	}

	return max(siblings[len(siblings)-1].Sort, 0) + a.step, nil
}

// Rebalance 重新加载父节点下的全部子节点并按业务优先级重新编号.
func (a *SortAllocator) Rebalance(ctx context.Context, projectID, parentID, predecessorID, excludeID, reason string) (int64, error) {
	siblings, err := a.nodes.ListChildren(ctx, repository.ChildrenQuery{
		ProjectID: projectID,
		ParentID:  parentID,
		ExcludeID: excludeID,
		ForUpdate: true,
	})
	if err != nil {
		return 0, err
	}

	return a.rebalance(ctx, siblings, parentID, predecessorID, reason)
}

func (a *SortAllocator) rebalance(ctx context.Context, siblings []model.FileNode, parentID, predecessorID, reason string) (int64, error) {
	ordered := slices.Clone(siblings)
	slices.SortStableFunc(ordered, compareByPriority)

	updates := make([]repository.SortUpdate, len(ordered))
	slot := int64(len(ordered)+1) * a.step

	for i := range ordered {
		s := int64(i+1) * a.step
		updates[i] = repository.SortUpdate{FileID: ordered[i].FileID, Sort: s}

		if ordered[i].FileID == predecessorID {
			slot = s + a.step/2
		}
	}

	if IsBeginSentinel(predecessorID) {
		slot = a.step / 2
	}

	if err := a.nodes.BatchUpdateSort(ctx, updates); err != nil {
		return 0, err
	}

	metrics.SortRebalance.WithLabelValues(reason).Inc()
	a.logger.Info().Str("parent_id", parentID).Int("nodes", len(ordered)).Str("reason", reason).
		Int64("slot", slot).Msg("兄弟节点重排")

	return slot, nil
}

// compareByPriority 正排序值优先并按值升序，其次目录在前，最后按创建时间倒序.
func compareByPriority(a, b model.FileNode) int {
	ap, bp := a.Sort > 0, b.Sort > 0
	switch {
	case ap && !bp:
		return -1
	case !ap && bp:
		return 1
	case ap && bp && a.Sort != b.Sort:
		if a.Sort < b.Sort {
			return -1
		}

		return 1
	}

	if a.IsDirectory != b.IsDirectory {
		if a.IsDirectory {
			return -1
		}

		return 1
	}

	return b.CreatedAt.Compare(a.CreatedAt)
}
