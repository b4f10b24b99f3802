package pathkey_test

import (
	"errors"
	"testing"
	"time"

	"github.com/yeisme/treevault/pkg/pathkey"
)

// TestClean 测试 key 规范化.
func TestClean(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "a//b/c.txt", want: "a/b/c.txt"},
		{in: "a/b/", want: "a/b/"},
		{in: "/a/b", want: "a/b"},
		{in: "//a/b/", want: "a/b/"},
		{in: "a/../b", wantErr: true},
		{in: "a/./b", wantErr: true},
		{in: "", wantErr: true},
		{in: "///", wantErr: true},
	}

	for _, tc := range cases {
		got, err := pathkey.Clean(tc.in)
		if tc.wantErr {
			if !errors.Is(err, pathkey.ErrIllegalKey) {
				t.Errorf("Clean(%q): expected ErrIllegalKey, got %v", tc.in, err)
			}

			continue
		}

		if err != nil || got != tc.want {
			t.Errorf("Clean(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

// TestDirBaseJoin 测试基础拼接与拆分.
func TestDirBaseJoin(t *testing.T) {
	if got := pathkey.Dir("org/p/ws/docs/a.txt"); got != "org/p/ws/docs/" {
		t.Errorf("Dir = %q", got)
	}

	if got := pathkey.Dir("org/p/ws/docs/"); got != "org/p/ws/" {
		t.Errorf("Dir of dir = %q", got)
	}

	if got := pathkey.Dir("a"); got != "" {
		t.Errorf("Dir of single segment = %q", got)
	}

	if got := pathkey.Base("org/p/ws/docs/"); got != "docs" {
		t.Errorf("Base = %q", got)
	}

	if got := pathkey.Join("org/p/ws/", "docs", "a.txt"); got != "org/p/ws/docs/a.txt" {
		t.Errorf("Join = %q", got)
	}
}

// TestReplacePrefix_SegmentBoundary 测试按路径段替换前缀，不误伤同名子串.
func TestReplacePrefix_SegmentBoundary(t *testing.T) {
	got, ok := pathkey.ReplacePrefix("ws/a/b/x.txt", "ws/a/b/", "ws/a/renamed/")
	if !ok || got != "ws/a/renamed/x.txt" {
		t.Errorf("ReplacePrefix = %q, %v", got, ok)
	}

	got, ok = pathkey.ReplacePrefix("ws/a/bc/x.txt", "ws/a/b/", "ws/a/renamed/")
	if ok || got != "ws/a/bc/x.txt" {
		t.Errorf("Expected no rewrite for ws/a/bc, got %q, %v", got, ok)
	}

	// 目录 key 保留结尾分隔符
	got, ok = pathkey.ReplacePrefix("ws/a/b/sub/", "ws/a/b", "ws/z")
	if !ok || got != "ws/z/sub/" {
		t.Errorf("ReplacePrefix dir = %q, %v", got, ok)
	}

	// 旧目录名作为后续路径段出现时不被替换
	got, _ = pathkey.ReplacePrefix("ws/b/x/b/y.txt", "ws/b", "ws/c")
	if got != "ws/c/x/b/y.txt" {
		t.Errorf("ReplacePrefix inner segment = %q", got)
	}
}

// TestInferIsDirectory 测试根据 key 语法推断目录标记.
func TestInferIsDirectory(t *testing.T) {
	cases := map[string]bool{
		"a/b":                   true,
		"a/b/":                  true,
		"a/b.txt":               false,
		"a/.gitignore":          false,
		"a/v1.2":                false,
		"a/archive.tar":         false,
		"a/weird.name!":         true,
		"a/too.longextension12": true,
	}

	for key, want := range cases {
		if got := pathkey.InferIsDirectory(key); got != want {
			t.Errorf("InferIsDirectory(%q) = %v, want %v", key, got, want)
		}
	}
}

// TestDecorate 测试冲突命名.
func TestDecorate(t *testing.T) {
	if got := pathkey.Decorate("report.txt", 1); got != "report(1).txt" {
		t.Errorf("Decorate = %q", got)
	}

	if got := pathkey.Decorate("docs", 10); got != "docs(10)" {
		t.Errorf("Decorate dir = %q", got)
	}

	if got := pathkey.Decorate(".env", 2); got != ".env(2)" {
		t.Errorf("Decorate hidden = %q", got)
	}

	ts := time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC)
	if got := pathkey.DecorateTimestamp("report.txt", ts); got != "report_20261014153000.txt" {
		t.Errorf("DecorateTimestamp = %q", got)
	}
}

// TestHasPrefix 测试按路径段判断前缀.
func TestHasPrefix(t *testing.T) {
	if !pathkey.HasPrefix("org/p/ws/a.txt", "org/p/ws/") {
		t.Error("Expected prefix match")
	}

	if pathkey.HasPrefix("org/p/workspace2/a.txt", "org/p/workspace") {
		t.Error("Expected no match across segment boundary")
	}

	rest, ok := pathkey.Rel("org/p/ws/docs/a.txt", "org/p/ws")
	if !ok || len(rest) != 2 || rest[0] != "docs" || rest[1] != "a.txt" {
		t.Errorf("Rel = %v, %v", rest, ok)
	}
}
