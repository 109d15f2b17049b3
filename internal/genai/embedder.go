package genai

import (
	"atelier/internal/entity"
	"fmt"
)

// AttributeEmbedder 把属性估计映射到固定布局的 one-hot 特征空间。
// 布局由默认词表决定，同一进程内所有向量维度一致、可直接比较。
type AttributeEmbedder struct {
	dimension int
	index     map[string]int // "category:value" → 下标
}

func NewAttributeEmbedder() *AttributeEmbedder {
	vocab := entity.DefaultAttributeVocabulary()
	index := make(map[string]int)
	offset := 0
	for _, category := range entity.AllCategories() {
		for _, value := range vocab[category] {
			index[attributeKey(category, value)] = offset
			offset++
		}
	}
	return &AttributeEmbedder{dimension: offset, index: index}
}

// Dimension 返回特征空间维度。
func (e *AttributeEmbedder) Dimension() int {
	return e.dimension
}

// Embed 将属性估计编码为 one-hot 向量。词表外的取值忽略。
func (e *AttributeEmbedder) Embed(estimates entity.AttributeEstimates) entity.Vector {
	vec := make(entity.Vector, e.dimension)
	for category, value := range estimates {
		if idx, ok := e.index[attributeKey(category, value)]; ok {
			vec[idx] = 1
		}
	}
	return vec
}

func attributeKey(category entity.AttributeCategory, value string) string {
	return fmt.Sprintf("%s:%s", category, value)
}
