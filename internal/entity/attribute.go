package entity

import (
	"fmt"
	"sort"
	"strings"
)

// AttributeCategory 表示封闭的属性类别枚举。
type AttributeCategory string

const (
	CategoryGarment    AttributeCategory = "garment"
	CategoryColor      AttributeCategory = "color"
	CategoryFabric     AttributeCategory = "fabric"
	CategorySilhouette AttributeCategory = "silhouette"
	CategoryStyle      AttributeCategory = "style"
)

// AllCategories 返回固定顺序的全部属性类别。
func AllCategories() []AttributeCategory {
	return []AttributeCategory{
		CategoryGarment,
		CategoryColor,
		CategoryFabric,
		CategorySilhouette,
		CategoryStyle,
	}
}

// IsValidCategory 检查类别是否属于封闭枚举。
func IsValidCategory(c AttributeCategory) bool {
	switch c {
	case CategoryGarment, CategoryColor, CategoryFabric, CategorySilhouette, CategoryStyle:
		return true
	default:
		return false
	}
}

// AttributeSpec 是请求的目标属性规格：类别 → 期望值列表。
// 在 API 入口处校验，核心流程中视为可信。
type AttributeSpec map[AttributeCategory][]string

// Validate 校验规格的类别和取值是否合法。
func (s AttributeSpec) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("attribute spec is empty")
	}
	for category, values := range s {
		if !IsValidCategory(category) {
			return fmt.Errorf("unknown attribute category: %s", category)
		}
		if len(values) == 0 {
			return fmt.Errorf("attribute category %s has no values", category)
		}
		for _, v := range values {
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("attribute category %s has an empty value", category)
			}
		}
	}
	return nil
}

// Categories 返回规格中出现的类别（固定顺序）。
func (s AttributeSpec) Categories() []AttributeCategory {
	out := make([]AttributeCategory, 0, len(s))
	for _, c := range AllCategories() {
		if _, ok := s[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Normalized 返回去除空白、统一小写后的副本。
func (s AttributeSpec) Normalized() AttributeSpec {
	out := make(AttributeSpec, len(s))
	for category, values := range s {
		cleaned := make([]string, 0, len(values))
		for _, v := range values {
			trimmed := strings.ToLower(strings.TrimSpace(v))
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			out[category] = cleaned
		}
	}
	return out
}

// AttributeEstimates 是验证阶段提取的属性估计值：类别 → 单一取值。
// 不保证准确，仅用于覆盖率分析与偏好学习。
type AttributeEstimates map[AttributeCategory]string

// Matches 检查估计值是否命中规格中该类别的任一期望值。
func (e AttributeEstimates) Matches(category AttributeCategory, spec AttributeSpec) bool {
	estimate := strings.ToLower(strings.TrimSpace(e[category]))
	if estimate == "" {
		return false
	}
	for _, want := range spec[category] {
		if strings.EqualFold(estimate, want) {
			return true
		}
	}
	return false
}

// Distribution 是某一属性类别上的归一化偏好分布：取值 → 权重。
type Distribution map[string]float64

// Sum 返回分布权重总和。
func (d Distribution) Sum() float64 {
	total := 0.0
	for _, w := range d {
		total += w
	}
	return total
}

// TopValue 返回权重最高的取值；并列时按字典序取最小，保证确定性。
func (d Distribution) TopValue() string {
	best := ""
	bestWeight := -1.0
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if d[k] > bestWeight {
			best = k
			bestWeight = d[k]
		}
	}
	return best
}

// Values 返回分布中的取值（字典序）。
func (d Distribution) Values() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DistributionSet 是按属性类别组织的一组分布，持久化为 JSON。
type DistributionSet map[AttributeCategory]Distribution

// UniformDistributionSet 按规格构造均匀分布集合，用于用户初始画像。
func UniformDistributionSet(vocab map[AttributeCategory][]string) DistributionSet {
	set := make(DistributionSet, len(vocab))
	for category, values := range vocab {
		if len(values) == 0 {
			continue
		}
		dist := make(Distribution, len(values))
		weight := 1.0 / float64(len(values))
		for _, v := range values {
			dist[v] = weight
		}
		set[category] = dist
	}
	return set
}

// DefaultAttributeVocabulary 返回各类别的默认取值词表。
// 词表同时决定嵌入向量的特征布局，顺序固定。
func DefaultAttributeVocabulary() map[AttributeCategory][]string {
	return map[AttributeCategory][]string{
		CategoryGarment: {
			"dress", "skirt", "top", "blouse", "pants", "jacket", "coat", "suit", "gown",
		},
		CategoryColor: {
			"black", "white", "ivory", "navy", "red", "emerald", "blush", "camel", "grey",
		},
		CategoryFabric: {
			"silk", "wool", "cotton", "linen", "denim", "chiffon", "leather", "jersey", "tweed",
		},
		CategorySilhouette: {
			"fitted", "a-line", "oversized", "draped", "structured", "flowing", "asymmetric",
		},
		CategoryStyle: {
			"minimalist", "romantic", "sporty", "avant-garde", "classic", "bohemian", "urban",
		},
	}
}
