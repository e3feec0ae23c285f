package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// normalize は任意の値をJSONで往復させ、map[string]any / []any / スカラーに揃える。
// 数値は精度を落とさないよう json.Number のまま持つ
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return decodeJSON(b)
}

func decodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

// encodeLeaf / decodeLeaf はバックエンドに保存する葉のバイト表現
func encodeLeaf(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeLeaf(b []byte) (any, error) {
	return decodeJSON(b)
}

// flatten は正規化済みの値を葉のパスと値に展開する
func flatten(path string, value any, out map[string]any) error {
	switch v := value.(type) {
	case nil:
	case map[string]any:
		for k, child := range v {
			if k == "" || strings.Contains(k, "/") {
				return fmt.Errorf("%w: key %q under %q", ErrInvalidPath, k, path)
			}
			if err := flatten(path+"/"+k, child, out); err != nil {
				return err
			}
		}
	case []any:
		for i, child := range v {
			if err := flatten(path+"/"+strconv.Itoa(i), child, out); err != nil {
				return err
			}
		}
	default:
		out[path] = v
	}
	return nil
}

// build は葉の集合から path 以下の値を組み立てる
func build(path string, leaves map[string]any) (any, bool) {
	if v, ok := leaves[path]; ok {
		return v, true
	}

	var root map[string]any
	for leaf, v := range leaves {
		if !strings.HasPrefix(leaf, path+"/") {
			continue
		}
		if root == nil {
			root = make(map[string]any)
		}
		segs := strings.Split(strings.TrimPrefix(leaf, path+"/"), "/")
		node := root
		for _, s := range segs[:len(segs)-1] {
			child, ok := node[s].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[s] = child
			}
			node = child
		}
		node[segs[len(segs)-1]] = v
	}
	if root == nil {
		return nil, false
	}
	return root, true
}

// snapshotOf は leaves から path のスナップショットを作る
func snapshotOf(path string, leaves map[string]any) Snapshot {
	v, ok := build(path, leaves)
	return Snapshot{Path: path, Value: v, Exists: ok}
}

// mutation は1回の書き込みを「消す範囲」と「置く葉」に分解したもの
type mutation struct {
	prunes []string       // このパスと配下の葉を消す
	exact  []string       // このパスちょうどの葉だけ消す(祖先にあるスカラー)
	sets   map[string]any // 葉のパス -> 値
}

func newMutation() mutation {
	return mutation{sets: make(map[string]any)}
}

// add は path を value で置き換える操作を追加する
func (m *mutation) add(path string, value any) error {
	v, err := normalize(value)
	if err != nil {
		return err
	}
	m.prunes = append(m.prunes, path)
	m.exact = append(m.exact, ancestors(path)...)
	return flatten(path, v, m.sets)
}

// removes は既存の葉がこの書き込みで消えるか
func (m mutation) removes(leaf string) bool {
	for _, p := range m.prunes {
		if isUnder(leaf, p) {
			return true
		}
	}
	for _, e := range m.exact {
		if leaf == e {
			return true
		}
	}
	return false
}

// apply は葉の集合に書き込みを反映する
func (m mutation) apply(leaves map[string]any) {
	for leaf := range leaves {
		if m.removes(leaf) {
			delete(leaves, leaf)
		}
	}
	for leaf, v := range m.sets {
		leaves[leaf] = v
	}
}

// sortedSets は書き込む葉をパス順に返す。逐次書き込みのバックエンド用
func (m mutation) sortedSets() []string {
	keys := make([]string, 0, len(m.sets))
	for k := range m.sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeMutation(path string, value any) (string, mutation, error) {
	path, err := cleanPath(path)
	if err != nil {
		return "", mutation{}, err
	}
	m := newMutation()
	if err := m.add(path, value); err != nil {
		return "", mutation{}, err
	}
	return path, m, nil
}

func mergeMutation(path string, partial map[string]any) (string, mutation, error) {
	path, err := cleanPath(path)
	if err != nil {
		return "", mutation{}, err
	}
	m := newMutation()
	keys := make([]string, 0, len(partial))
	for k := range partial {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sub, err := cleanPath(path + "/" + k)
		if err != nil || strings.Trim(k, "/") == "" {
			return "", mutation{}, fmt.Errorf("%w: merge key %q", ErrInvalidPath, k)
		}
		if err := m.add(sub, partial[k]); err != nil {
			return "", mutation{}, err
		}
	}
	return path, m, nil
}
