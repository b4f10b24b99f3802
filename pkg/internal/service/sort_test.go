package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/treevault/pkg/configs"
	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/internal/repository"
	"github.com/yeisme/treevault/pkg/internal/service"
)

func siblings(sorts ...int64) []model.FileNode {
	out := make([]model.FileNode, len(sorts))
	for i, s := range sorts {
		out[i] = model.FileNode{FileID: string(rune('A' + i)), Sort: s}
	}

	return out
}

func sorted(t *testing.T, e *env, parentID string) map[string]int64 {
	t.Helper()

	rows, err := e.nodes.ListChildren(context.Background(), repository.ChildrenQuery{ProjectID: "p1", ParentID: parentID})
	require.NoError(t, err)

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.FileID] = r.Sort
	}

	return out
}

// TestCalculateSortAfter 测试纯排序计算.
func TestCalculateSortAfter(t *testing.T) {
	a := service.NewSortAllocator(configs.SortConfig{Step: 1024, MinGap: 10}, nil)

	tests := []struct {
		name      string
		siblings  []model.FileNode
		pred      string
		want      int64
		rebalance bool
	}{
		{name: "empty parent", siblings: nil, pred: "", want: 1024},
		{name: "between", siblings: siblings(1000, 2000), pred: "A", want: 1500},
		{name: "at begin", siblings: siblings(2500, 4000), pred: "0", want: 1250},
		{name: "empty predecessor is begin", siblings: siblings(2500), pred: "", want: 1250},
		{name: "after last", siblings: siblings(1000, 2000), pred: "B", want: 3024},
		{name: "unknown predecessor appends", siblings: siblings(1000, 2000), pred: "missing", want: 3024},
		{name: "no gap", siblings: siblings(1000, 1005), pred: "A", rebalance: true},
		{name: "no room at begin", siblings: siblings(8, 16), pred: "-1", rebalance: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rebalance := a.CalculateSortAfter(tt.siblings, tt.pred)
			assert.Equal(t, tt.rebalance, rebalance)

			if !tt.rebalance {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestIsBeginSentinel(t *testing.T) {
	for _, v := range []string{"", "0", "-1", "null", " NULL "} {
		assert.True(t, service.IsBeginSentinel(v), v)
	}

	assert.False(t, service.IsBeginSentinel("01HZX"))
}

// TestPlace_RebalanceNoGap 测试间隔不足时整体重排并返回前驱之后的槽位.
func TestPlace_RebalanceNoGap(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	s1, s2 := row("S1", "p1", "ws/a.txt", "R", false), row("S2", "p1", "ws/b.txt", "R", false)
	s1.Sort, s2.Sort = 1000, 1005
	e.insert(t, row("R", "p1", "ws/", "", true), s1, s2)

	a := service.NewSortAllocator(e.deps.Tree.Sort, e.nodes)

	slot, err := a.Place(ctx, "p1", "R", "S1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1536), slot)
	assert.Equal(t, map[string]int64{"S1": 1024, "S2": 2048}, sorted(t, e, "R"))

	// 重排之后再次插入不需要重排
	slot, err = a.Place(ctx, "p1", "R", "S1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1536), slot)
	assert.Equal(t, map[string]int64{"S1": 1024, "S2": 2048}, sorted(t, e, "R"))
}

// TestPlace_RebalanceAtBegin 测试首位没有空间时重排，新节点放到 step/2.
func TestPlace_RebalanceAtBegin(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	s1 := row("S1", "p1", "ws/a.txt", "R", false)
	s1.Sort = 5
	e.insert(t, row("R", "p1", "ws/", "", true), s1)

	slot, err := service.NewSortAllocator(e.deps.Tree.Sort, e.nodes).Place(ctx, "p1", "R", "null", "")
	require.NoError(t, err)
	assert.Equal(t, int64(512), slot)
	assert.Equal(t, int64(1024), sorted(t, e, "R")["S1"])
}

// TestRebalance_Priority 测试重排顺序：正排序值在前，其次目录，最后按创建时间倒序.
func TestRebalance_Priority(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	now := time.Now()

	f3 := row("F3", "p1", "ws/f3.txt", "R", false)
	f3.Sort = 3000

	e.insert(t,
		row("R", "p1", "ws/", "", true),
		updatedAt(row("FOLD", "p1", "ws/old.txt", "R", false), now.Add(-2*time.Hour)),
		updatedAt(row("FNEW", "p1", "ws/new.txt", "R", false), now.Add(-time.Hour)),
		updatedAt(row("D0", "p1", "ws/d/", "R", true), now.Add(-3*time.Hour)),
		f3,
	)

	_, err := service.NewSortAllocator(e.deps.Tree.Sort, e.nodes).Rebalance(ctx, "p1", "R", "", "", service.RebalanceNoGap)
	require.NoError(t, err)

	assert.Equal(t, map[string]int64{"F3": 1024, "D0": 2048, "FNEW": 3072, "FOLD": 4096}, sorted(t, e, "R"))
}

// TestRebalance_Idempotent 测试连续两次重排结果一致.
func TestRebalance_Idempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	now := time.Now()

	b := row("B", "p1", "ws/b.txt", "R", false)
	b.Sort = 7

	e.insert(t,
		row("R", "p1", "ws/", "", true),
		updatedAt(row("F1", "p1", "ws/1.txt", "R", false), now.Add(-time.Hour)),
		updatedAt(row("D1", "p1", "ws/d/", "R", true), now.Add(-2*time.Hour)),
		b,
	)

	a := service.NewSortAllocator(e.deps.Tree.Sort, e.nodes)

	_, err := a.Rebalance(ctx, "p1", "R", "", "", service.RebalanceNoGap)
	require.NoError(t, err)

	first := sorted(t, e, "R")
	assert.Equal(t, map[string]int64{"B": 1024, "D1": 2048, "F1": 3072}, first)

	_, err = a.Rebalance(ctx, "p1", "R", "", "", service.RebalanceNoGap)
	require.NoError(t, err)
	assert.Equal(t, first, sorted(t, e, "R"))
}

// TestPlace_RepeatedInsertAfter 反复插入到同一节点之后，间隔耗尽时只重排一次.
func TestPlace_RepeatedInsertAfter(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	first, last := row("A", "p1", "ws/a.txt", "R", false), row("B", "p1", "ws/b.txt", "R", false)
	first.Sort, last.Sort = 1000, 2000
	e.insert(t, row("R", "p1", "ws/", "", true), first, last)

	a := service.NewSortAllocator(e.deps.Tree.Sort, e.nodes)

	var slots []int64

	for i := 1; i <= 7; i++ {
		slot, err := a.Place(ctx, "p1", "R", "A", "")
		require.NoError(t, err)

		slots = append(slots, slot)

		n := row(fmt.Sprintf("N%d", i), "p1", fmt.Sprintf("ws/n%d.txt", i), "R", false)
		n.Sort = slot
		e.insert(t, n)
	}

	assert.Equal(t, []int64{1500, 1250, 1125, 1062, 1031, 1015, 1007}, slots)
	assert.Equal(t, int64(1000), sorted(t, e, "R")["A"])

	// 1000 与 1007 之间已没有空间
	slot, err := a.Place(ctx, "p1", "R", "A", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1536), slot)

	want := map[string]int64{"A": 1024, "B": 9216}
	for i := 1; i <= 7; i++ {
		want[fmt.Sprintf("N%d", i)] = int64(9-i) * 1024
	}

	assert.Equal(t, want, sorted(t, e, "R"))

	slot, err = a.Place(ctx, "p1", "R", "A", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1536), slot)
	assert.Equal(t, want, sorted(t, e, "R"))
}
