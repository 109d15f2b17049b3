package genai

import (
	"atelier/internal/entity"
	"testing"
)

func TestAttributeEmbedderDimension(t *testing.T) {
	embedder := NewAttributeEmbedder()

	total := 0
	vocab := entity.DefaultAttributeVocabulary()
	for _, values := range vocab {
		total += len(values)
	}
	if embedder.Dimension() != total {
		t.Fatalf("expected dimension %d, got %d", total, embedder.Dimension())
	}
}

func TestAttributeEmbedderEmbed(t *testing.T) {
	embedder := NewAttributeEmbedder()

	vec := embedder.Embed(entity.AttributeEstimates{
		entity.CategoryColor:   "black",
		entity.CategoryGarment: "dress",
		entity.CategoryFabric:  "unobtainium", // 词表外，忽略
	})

	if len(vec) != embedder.Dimension() {
		t.Fatalf("expected length %d, got %d", embedder.Dimension(), len(vec))
	}

	ones := 0
	for _, v := range vec {
		if v == 1 {
			ones++
		} else if v != 0 {
			t.Fatalf("unexpected component %v", v)
		}
	}
	if ones != 2 {
		t.Fatalf("expected 2 active components, got %d", ones)
	}
}

func TestAttributeEmbedderDeterministic(t *testing.T) {
	a := NewAttributeEmbedder()
	b := NewAttributeEmbedder()

	estimates := entity.AttributeEstimates{
		entity.CategoryStyle: "minimalist",
		entity.CategoryColor: "navy",
	}

	va := a.Embed(estimates)
	vb := b.Embed(estimates)
	for i := range va {
		if va[i] != vb[i] {
			t.Fatalf("embedding layout is not stable at index %d", i)
		}
	}
}
