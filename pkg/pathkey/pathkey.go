// Package pathkey 以路径段为单位处理对象存储 key.
//
// 目录 key 总是以分隔符结尾，文件 key 从不以分隔符结尾.
// 前缀判断与替换都按完整路径段比较，因此 "a/b" 不会匹配 "a/bc/x".
package pathkey

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Separator 路径分隔符.
const Separator = "/"

// maxExtLen 可识别扩展名的最大长度（不含点）.
const maxExtLen = 10

// ErrIllegalKey key 中包含 "." 或 ".." 段、或为空.
var ErrIllegalKey = errors.New("illegal key")

// Clean 合并重复分隔符、去掉开头分隔符并拒绝相对段，保留结尾分隔符.
// "/a/b" 与 "a//b" 都规范为 "a/b"，同一逻辑路径只有一种写法.
func Clean(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: empty", ErrIllegalKey)
	}

	segs := Split(key)
	for _, s := range segs {
		if s == "." || s == ".." {
			return "", fmt.Errorf("%w: relative segment in %q", ErrIllegalKey, key)
		}
	}

	if len(segs) == 0 {
		return "", fmt.Errorf("%w: no segments in %q", ErrIllegalKey, key)
	}

	out := strings.Join(segs, Separator)

	if IsDirKey(key) {
		out += Separator
	}

	return out, nil
}

// Split 返回非空路径段.
func Split(key string) []string {
	raw := strings.Split(key, Separator)
	segs := make([]string, 0, len(raw))

	for _, s := range raw {
		if s != "" {
			segs = append(segs, s)
		}
	}

	return segs
}

// Join 把名称逐段拼接到 parent 之后，结果不带结尾分隔符.
func Join(parent string, names ...string) string {
	parts := make([]string, 0, len(names)+1)

	if p := strings.TrimSuffix(parent, Separator); p != "" {
		parts = append(parts, p)
	}

	for _, n := range names {
		n = strings.Trim(n, Separator)
		if n != "" {
			parts = append(parts, n)
		}
	}

	return strings.Join(parts, Separator)
}

// IsDirKey 判断 key 是否为目录 key.
func IsDirKey(key string) bool {
	return strings.HasSuffix(key, Separator)
}

// AsDir 确保 key 以分隔符结尾.
func AsDir(key string) string {
	if IsDirKey(key) {
		return key
	}

	return key + Separator
}

// AsFile 去掉结尾分隔符.
func AsFile(key string) string {
	return strings.TrimRight(key, Separator)
}

// Base 返回最后一个路径段.
func Base(key string) string {
	segs := Split(key)
	if len(segs) == 0 {
		return ""
	}

	return segs[len(segs)-1]
}

// Dir 返回父目录 key（带结尾分隔符），没有父目录时返回空字符串.
func Dir(key string) string {
	segs := Split(key)
	if len(segs) <= 1 {
		return ""
	}

	out := strings.Join(segs[:len(segs)-1], Separator) + Separator
	if strings.HasPrefix(key, Separator) {
		out = Separator + out
	}

	return out
}

// HasPrefix 判断 prefix 的所有路径段是否为 key 的前导路径段.
func HasPrefix(key, prefix string) bool {
	ks, ps := Split(key), Split(prefix)
	if len(ps) > len(ks) {
		return false
	}

	for i := range ps {
		if ks[i] != ps[i] {
			return false
		}
	}

	return true
}

// Rel 返回 key 相对 root 的路径段，key 不在 root 之下时 ok 为 false.
func Rel(key, root string) ([]string, bool) {
	if !HasPrefix(key, root) {
		return nil, false
	}

	return Split(key)[len(Split(root)):], true
}

// ReplacePrefix 把 key 的前导路径段 oldPrefix 替换为 newPrefix，保留目录结尾分隔符.
// 前缀不匹配时原样返回 key 且 ok 为 false.
func ReplacePrefix(key, oldPrefix, newPrefix string) (string, bool) {
	rest, ok := Rel(key, oldPrefix)
	if !ok {
		return key, false
	}

	out := Join(newPrefix, rest...)
	if strings.HasPrefix(newPrefix, Separator) && !strings.HasPrefix(out, Separator) {
		out = Separator + out
	}

	if IsDirKey(key) {
		out = AsDir(out)
	}

	return out, true
}

// Ext 返回可识别的扩展名（含点），无可识别扩展名时返回空字符串.
// 可识别：点后 1 到 10 个字母或数字.
func Ext(name string) string {
	ext := path.Ext(name)
	if len(ext) < 2 || len(ext) > maxExtLen+1 {
		return ""
	}

	for _, r := range ext[1:] {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum {
			return ""
		}
	}

	return ext
}

// InferIsDirectory 根据 key 语法推断是否为目录：结尾分隔符或没有可识别扩展名.
func InferIsDirectory(key string) bool {
	if IsDirKey(key) {
		return true
	}

	return Ext(Base(key)) == ""
}

// splitName 把文件名拆成主干与扩展名，以点开头的隐藏文件不拆.
func splitName(name string) (string, string) {
	ext := Ext(name)
	stem := strings.TrimSuffix(name, ext)

	if stem == "" {
		return name, ""
	}

	return stem, ext
}

// Decorate 生成 name(n).ext 形式的候选名称.
func Decorate(name string, n int) string {
	stem, ext := splitName(name)

	return fmt.Sprintf("%s(%d)%s", stem, n, ext)
}

// DecorateTimestamp 生成 name_20060102150405.ext 形式的候选名称.
func DecorateTimestamp(name string, t time.Time) string {
	stem, ext := splitName(name)

	return fmt.Sprintf("%s_%s%s", stem, t.UTC().Format("20060102150405"), ext)
}
