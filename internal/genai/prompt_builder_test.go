package genai

import (
	"atelier/internal/entity"
	"math/rand"
	"strings"
	"testing"
)

func TestPromptBuilderSpecificMode(t *testing.T) {
	builder := NewPromptBuilder(rand.New(rand.NewSource(1)))

	spec := entity.AttributeSpec{
		entity.CategoryColor:   {"black", "red"},
		entity.CategoryGarment: {"dress"},
	}

	prompts := builder.Build("evening collection", spec, nil, 0.15, entity.RunModeSpecific, 4)
	if len(prompts) != 4 {
		t.Fatalf("expected 4 prompts, got %d", len(prompts))
	}

	for i, prompt := range prompts {
		if !strings.HasPrefix(prompt, "evening collection") {
			t.Fatalf("prompt %d missing base: %q", i, prompt)
		}
		if !strings.Contains(prompt, "garment: dress") {
			t.Fatalf("prompt %d missing garment clause: %q", i, prompt)
		}
		// specific 模式不补画像维度
		if strings.Contains(prompt, "fabric:") || strings.Contains(prompt, "style:") {
			t.Fatalf("prompt %d leaked unspecified category: %q", i, prompt)
		}
	}

	// 规格值按下标轮转
	if !strings.Contains(prompts[0], "color: black") || !strings.Contains(prompts[1], "color: red") {
		t.Fatalf("spec values should rotate: %q / %q", prompts[0], prompts[1])
	}
}

func TestPromptBuilderExploratoryUsesProfile(t *testing.T) {
	builder := NewPromptBuilder(rand.New(rand.NewSource(7)))

	profile := entity.DistributionSet{
		entity.CategoryColor: {"black": 0.8, "red": 0.2},
		entity.CategoryStyle: {"minimalist": 0.9, "romantic": 0.1},
	}

	// epsilon=0 时纯利用，所有变体取画像权重最高值
	prompts := builder.Build("capsule wardrobe", nil, profile, 0, entity.RunModeExploratory, 5)
	for i, prompt := range prompts {
		if !strings.Contains(prompt, "color: black") {
			t.Fatalf("prompt %d should exploit top color: %q", i, prompt)
		}
		if !strings.Contains(prompt, "style: minimalist") {
			t.Fatalf("prompt %d should exploit top style: %q", i, prompt)
		}
	}
}

func TestPromptBuilderExploratoryExplores(t *testing.T) {
	builder := NewPromptBuilder(rand.New(rand.NewSource(42)))

	profile := entity.DistributionSet{
		entity.CategoryColor: {"black": 1.0},
	}

	// epsilon=1 时纯探索，足够多的变体应覆盖 black 之外的颜色
	prompts := builder.Build("capsule wardrobe", nil, profile, 1, entity.RunModeExploratory, 30)
	foundOther := false
	for _, prompt := range prompts {
		if strings.Contains(prompt, "color:") && !strings.Contains(prompt, "color: black") {
			foundOther = true
			break
		}
	}
	if !foundOther {
		t.Fatal("epsilon=1 should explore beyond the profile top value")
	}
}

func TestPromptBuilderEmptyCount(t *testing.T) {
	builder := NewPromptBuilder(rand.New(rand.NewSource(1)))
	if prompts := builder.Build("x", nil, nil, 0.15, entity.RunModeSpecific, 0); prompts != nil {
		t.Fatalf("expected nil for zero count, got %v", prompts)
	}
}
