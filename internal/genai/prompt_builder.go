package genai

import (
	"atelier/internal/entity"
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// PromptBuilder 根据基础提示词、目标规格与用户画像扩展出 N 个提示词变体。
// exploratory 模式按 epsilon-greedy 在画像之外做探索；specific 模式严格遵循规格。
type PromptBuilder struct {
	vocab map[entity.AttributeCategory][]string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPromptBuilder 以给定随机源构造。测试注入固定种子保证可复现。
func NewPromptBuilder(rng *rand.Rand) *PromptBuilder {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &PromptBuilder{
		vocab: entity.DefaultAttributeVocabulary(),
		rng:   rng,
	}
}

// Build 生成 count 个提示词变体。
func (b *PromptBuilder) Build(base string, spec entity.AttributeSpec, profile entity.DistributionSet, epsilon float64, mode string, count int) []string {
	if count <= 0 {
		return nil
	}
	if epsilon < 0 {
		epsilon = 0
	}
	if epsilon > 1 {
		epsilon = 1
	}

	prompts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		clauses := make([]string, 0, len(entity.AllCategories()))
		for _, category := range entity.AllCategories() {
			value := b.pickValue(category, i, spec, profile, epsilon, mode)
			if value == "" {
				continue
			}
			clauses = append(clauses, fmt.Sprintf("%s: %s", category, value))
		}

		prompt := strings.TrimSpace(base)
		if len(clauses) > 0 {
			prompt = fmt.Sprintf("%s [%s]", prompt, strings.Join(clauses, ", "))
		}
		prompts = append(prompts, prompt)
	}
	return prompts
}

// pickValue 为单个类别选值。
// 规格中给出的类别按下标轮转取值，保证变体均匀覆盖期望值；
// exploratory 模式下未指定的类别走 epsilon-greedy：以 epsilon 概率随机探索，
// 否则取画像中权重最高的值。
func (b *PromptBuilder) pickValue(category entity.AttributeCategory, idx int, spec entity.AttributeSpec, profile entity.DistributionSet, epsilon float64, mode string) string {
	if values, ok := spec[category]; ok && len(values) > 0 {
		return values[idx%len(values)]
	}
	if mode != entity.RunModeExploratory {
		return ""
	}

	vocab := b.vocab[category]
	if b.explore(epsilon) {
		if len(vocab) == 0 {
			return ""
		}
		return vocab[b.intn(len(vocab))]
	}

	if dist, ok := profile[category]; ok {
		if top := dist.TopValue(); top != "" {
			return top
		}
	}
	if len(vocab) == 0 {
		return ""
	}
	return vocab[b.intn(len(vocab))]
}

func (b *PromptBuilder) explore(epsilon float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float64() < epsilon
}

func (b *PromptBuilder) intn(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Intn(n)
}
