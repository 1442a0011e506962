package provider

import (
	"fmt"
	"strings"
)

// Registry 是 provider 的只读注册表（按 name 索引）。
// 用 map 做 O(1) 查找；provider 数量极小，保持简单即可。
type Registry struct {
	byName map[string]Provider
	order  []string
}

func NewRegistry(providers ...Provider) (Registry, error) {
	byName := make(map[string]Provider, len(providers))
	order := make([]string, 0, len(providers))
	for _, p := range providers {
		if p == nil {
			return Registry{}, fmt.Errorf("provider 不能为空")
		}
		name := normName(p.Name())
		if name == "" {
			return Registry{}, fmt.Errorf("provider.Name 不能为空")
		}
		if _, ok := byName[name]; ok {
			return Registry{}, fmt.Errorf("重复的 provider：%q", name)
		}
		byName[name] = p
		order = append(order, name)
	}
	return Registry{byName: byName, order: order}, nil
}

// Get 按名字查找；大小写、空格、下划线/连字符不敏感（"Rotten Tomatoes" == "rotten_tomatoes" == "rottentomatoes"）。
func (r Registry) Get(name string) (Provider, bool) {
	if r.byName == nil {
		return nil, false
	}
	p, ok := r.byName[normName(name)]
	return p, ok
}

// Names 返回注册顺序的 provider 名。
func (r Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func normName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}
