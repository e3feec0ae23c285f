package store

import (
	"fmt"
	"strings"
)

// SplitPath はパスを要素に分ける。空の要素は許さない
func SplitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

// JoinPath は要素をスラッシュでつなぐ
func JoinPath(segs ...string) string {
	return strings.Join(segs, "/")
}

// cleanPath は検証済みの正規化パスを返す
func cleanPath(path string) (string, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return "", err
	}
	return JoinPath(segs...), nil
}

// isUnder は leaf が path 自身かその配下か
func isUnder(leaf, path string) bool {
	return leaf == path || strings.HasPrefix(leaf, path+"/")
}

// related は変更されたパスが購読パスに影響するか
func related(changed, subscribed string) bool {
	return isUnder(changed, subscribed) || isUnder(subscribed, changed)
}

// ancestors は path の祖先パス(自身は含まない)
func ancestors(path string) []string {
	segs := strings.Split(path, "/")
	out := make([]string, 0, len(segs)-1)
	for i := 1; i < len(segs); i++ {
		out = append(out, JoinPath(segs[:i]...))
	}
	return out
}
