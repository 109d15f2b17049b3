package service

import (
	"atelier/internal/entity"
	"context"
	"math"
	"testing"
)

func profileWith(t *testing.T, repo *stubRepo, userID uint, set entity.DistributionSet) *entity.DbStyleProfile {
	t.Helper()
	profile := &entity.DbStyleProfile{
		UserID:  userID,
		Epsilon: 0.15,
		Version: 1,
	}
	if err := profile.SetDistributionSet(set); err != nil {
		t.Fatalf("set distributions: %v", err)
	}
	if err := repo.CreateStyleProfile(context.Background(), profile); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	return profile
}

func distributionOf(t *testing.T, repo *stubRepo, userID uint, category entity.AttributeCategory) entity.Distribution {
	t.Helper()
	profile, err := repo.GetStyleProfile(context.Background(), userID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	set, err := profile.DistributionSet()
	if err != nil {
		t.Fatalf("decode distributions: %v", err)
	}
	return set[category]
}

func TestApplyFeedbackRenormalizes(t *testing.T) {
	repo := newStubRepo()
	profileWith(t, repo, 1, entity.DistributionSet{
		entity.CategoryColor: {"black": 0.5, "red": 0.5},
	})

	learner := NewPreferenceLearner(repo, 0.15)
	artifact := &entity.DbArtifact{
		ID:         "art-1",
		Attributes: entity.JSONMap{"color": "red"},
	}
	feedback := &entity.DbFeedbackEvent{ID: 1, UserID: 1, Selected: true}

	event, _, err := learner.ApplyFeedback(context.Background(), 1, feedback, artifact)
	if err != nil {
		t.Fatalf("apply feedback: %v", err)
	}
	if event.Class != entity.FeedbackClassPositive {
		t.Fatalf("expected positive class, got %s", event.Class)
	}

	// {black:0.5, red:0.5} + 0.10 red → {black:0.4545…, red:0.5454…}
	dist := distributionOf(t, repo, 1, entity.CategoryColor)
	if math.Abs(dist["red"]-0.6/1.1) > 1e-9 {
		t.Fatalf("expected red ≈ %v, got %v", 0.6/1.1, dist["red"])
	}
	if math.Abs(dist["black"]-0.5/1.1) > 1e-9 {
		t.Fatalf("expected black ≈ %v, got %v", 0.5/1.1, dist["black"])
	}
	if math.Abs(dist.Sum()-1.0) > 1e-6 {
		t.Fatalf("distribution must sum to 1, got %v", dist.Sum())
	}
}

func TestApplyFeedbackRepeatedEventsStayNormalized(t *testing.T) {
	repo := newStubRepo()
	profileWith(t, repo, 1, entity.DistributionSet{
		entity.CategoryColor: {"black": 0.5, "red": 0.5},
	})

	learner := NewPreferenceLearner(repo, 0.15)
	artifact := &entity.DbArtifact{
		ID:         "art-1",
		Attributes: entity.JSONMap{"color": "red"},
	}

	// 对抗性重复同一事件，分布始终归一
	for i := 0; i < 50; i++ {
		feedback := &entity.DbFeedbackEvent{ID: uint(i + 1), UserID: 1, Selected: true}
		if _, _, err := learner.ApplyFeedback(context.Background(), 1, feedback, artifact); err != nil {
			t.Fatalf("apply feedback %d: %v", i, err)
		}
		dist := distributionOf(t, repo, 1, entity.CategoryColor)
		if math.Abs(dist.Sum()-1.0) > 1e-6 {
			t.Fatalf("iteration %d: sum %v", i, dist.Sum())
		}
	}

	// red 的权重单调逼近 1 但不超过
	dist := distributionOf(t, repo, 1, entity.CategoryColor)
	if dist["red"] <= 0.5 || dist["red"] > 1 {
		t.Fatalf("red weight out of expected range: %v", dist["red"])
	}
}

func TestApplyFeedbackNegative(t *testing.T) {
	repo := newStubRepo()
	profileWith(t, repo, 1, entity.DistributionSet{
		entity.CategoryColor: {"black": 0.5, "red": 0.5},
	})

	learner := NewPreferenceLearner(repo, 0.15)
	artifact := &entity.DbArtifact{
		ID:         "art-1",
		Attributes: entity.JSONMap{"color": "red"},
	}
	feedback := &entity.DbFeedbackEvent{ID: 1, UserID: 1, Rejected: true}

	event, _, err := learner.ApplyFeedback(context.Background(), 1, feedback, artifact)
	if err != nil {
		t.Fatalf("apply feedback: %v", err)
	}
	if event.Class != entity.FeedbackClassNegative {
		t.Fatalf("expected negative class, got %s", event.Class)
	}

	dist := distributionOf(t, repo, 1, entity.CategoryColor)
	if dist["red"] >= dist["black"] {
		t.Fatalf("negative feedback should erode red: %v", dist)
	}
	if math.Abs(dist.Sum()-1.0) > 1e-6 {
		t.Fatalf("distribution must sum to 1, got %v", dist.Sum())
	}
}

func TestApplyFeedbackCorrectionSource(t *testing.T) {
	repo := newStubRepo()
	profileWith(t, repo, 1, entity.DistributionSet{
		entity.CategoryColor: {"black": 0.5, "red": 0.5},
	})

	learner := NewPreferenceLearner(repo, 0.15)
	artifact := &entity.DbArtifact{
		ID:         "art-1",
		Attributes: entity.JSONMap{"color": "black"},
	}
	feedback := &entity.DbFeedbackEvent{ID: 1, UserID: 1, Selected: true, Comments: "more red please"}

	event, _, err := learner.ApplyFeedback(context.Background(), 1, feedback, artifact)
	if err != nil {
		t.Fatalf("apply feedback: %v", err)
	}
	if event.Source != entity.FeedbackSourceCorrection {
		t.Fatalf("expected correction source, got %s", event.Source)
	}
	if len(event.CorrectionTerms) != 1 || event.CorrectionTerms[0] != "color:red" {
		t.Fatalf("unexpected correction terms: %v", event.CorrectionTerms)
	}

	// 修正增量与类别增量共存：red 取修正值，black 保留类别值
	if math.Abs(event.Deltas["color:red"]-0.30) > 1e-9 {
		t.Fatalf("expected red delta 0.30, got %v", event.Deltas["color:red"])
	}
	if math.Abs(event.Deltas["color:black"]-0.10) > 1e-9 {
		t.Fatalf("expected black delta 0.10, got %v", event.Deltas["color:black"])
	}

	// 无评论时保持 explicit 来源
	feedback = &entity.DbFeedbackEvent{ID: 2, UserID: 1, Selected: true}
	event, _, err = learner.ApplyFeedback(context.Background(), 1, feedback, artifact)
	if err != nil {
		t.Fatalf("apply feedback: %v", err)
	}
	if event.Source != entity.FeedbackSourceExplicit {
		t.Fatalf("expected explicit source, got %s", event.Source)
	}
	if len(event.CorrectionTerms) != 0 {
		t.Fatalf("explicit event should carry no correction terms: %v", event.CorrectionTerms)
	}
}

func TestApplyFeedbackZeroDistributionUnchanged(t *testing.T) {
	repo := newStubRepo()
	profileWith(t, repo, 1, entity.DistributionSet{
		entity.CategoryColor: {"red": 0.03},
	})

	learner := NewPreferenceLearner(repo, 0.15)
	artifact := &entity.DbArtifact{
		ID:         "art-1",
		Attributes: entity.JSONMap{"color": "red"},
	}
	feedback := &entity.DbFeedbackEvent{ID: 1, UserID: 1, Rejected: true}

	if _, _, err := learner.ApplyFeedback(context.Background(), 1, feedback, artifact); err != nil {
		t.Fatalf("apply feedback: %v", err)
	}

	// 负增量把唯一项钳到 0，全零分布无法归一，保持原样
	dist := distributionOf(t, repo, 1, entity.CategoryColor)
	if math.Abs(dist["red"]-0.03) > 1e-9 {
		t.Fatalf("degenerate distribution should be left unchanged, got %v", dist)
	}
}

func TestApplyDiscardedAsNegative(t *testing.T) {
	repo := newStubRepo()
	profileWith(t, repo, 1, entity.DistributionSet{
		entity.CategoryColor: {"black": 0.5, "red": 0.5},
	})

	learner := NewPreferenceLearner(repo, 0.15)
	discarded := []*entity.DbArtifact{
		{ID: "d-1", Attributes: entity.JSONMap{"color": "red"}},
		{ID: "d-2", Attributes: entity.JSONMap{"color": "red"}},
	}

	learner.ApplyDiscardedAsNegative(context.Background(), 1, discarded)

	dist := distributionOf(t, repo, 1, entity.CategoryColor)
	if dist["red"] >= 0.5 {
		t.Fatalf("implicit negative signal should erode red, got %v", dist["red"])
	}
	// 隐式信号幅度小于显式负反馈
	if dist["red"] < 0.45 {
		t.Fatalf("implicit erosion too strong: %v", dist["red"])
	}
	if len(repo.learning) != 1 {
		t.Fatalf("expected one implicit learning event, got %d", len(repo.learning))
	}
	if repo.learning[0].Source != entity.FeedbackSourceImplicit {
		t.Fatalf("expected implicit source, got %s", repo.learning[0].Source)
	}
}

func TestExtractCorrections(t *testing.T) {
	tests := []struct {
		name     string
		comments string
		wantKey  string
		wantSign float64
	}{
		{name: "more 提升", comments: "I want more red please", wantKey: "color:red", wantSign: 1},
		{name: "less 抑制", comments: "less denim next time", wantKey: "fabric:denim", wantSign: -1},
		{name: "no 抑制", comments: "no leather!", wantKey: "fabric:leather", wantSign: -1},
		{name: "词表外忽略", comments: "more sparkles", wantKey: "", wantSign: 0},
		{name: "空评论", comments: "   ", wantKey: "", wantSign: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corrections := extractCorrections(tt.comments)
			if tt.wantKey == "" {
				if len(corrections) != 0 {
					t.Fatalf("expected no corrections, got %v", corrections)
				}
				return
			}
			delta, ok := corrections[tt.wantKey]
			if !ok {
				t.Fatalf("expected correction on %s, got %v", tt.wantKey, corrections)
			}
			if tt.wantSign > 0 && delta != deltaCorrectionBoost {
				t.Fatalf("expected boost %v, got %v", deltaCorrectionBoost, delta)
			}
			if tt.wantSign < 0 && delta != deltaCorrectionDamp {
				t.Fatalf("expected damp %v, got %v", deltaCorrectionDamp, delta)
			}
		})
	}
}

func TestClassifyFeedback(t *testing.T) {
	tests := []struct {
		name     string
		feedback entity.DbFeedbackEvent
		want     string
	}{
		{name: "驳回优先", feedback: entity.DbFeedbackEvent{Rejected: true, Rating: 5}, want: entity.FeedbackClassNegative},
		{name: "选中为正", feedback: entity.DbFeedbackEvent{Selected: true}, want: entity.FeedbackClassPositive},
		{name: "高分为正", feedback: entity.DbFeedbackEvent{Rating: 4}, want: entity.FeedbackClassPositive},
		{name: "低分为负", feedback: entity.DbFeedbackEvent{Rating: 2}, want: entity.FeedbackClassNegative},
		{name: "中间分中性", feedback: entity.DbFeedbackEvent{Rating: 3}, want: entity.FeedbackClassNeutral},
		{name: "无信号中性", feedback: entity.DbFeedbackEvent{}, want: entity.FeedbackClassNeutral},
	}

	for _, tt := range tests {
		if got := classifyFeedback(&tt.feedback); got != tt.want {
			t.Fatalf("%s: expected %s, got %s", tt.name, tt.want, got)
		}
	}
}

func TestRecordFeedbackEndToEnd(t *testing.T) {
	repo := newStubRepo()
	repo.artifacts["art-1"] = &entity.DbArtifact{
		ID:           "art-1",
		RunID:        "run-1",
		OverallScore: 80,
		Attributes:   entity.JSONMap{"color": "black"},
	}

	learner := NewPreferenceLearner(repo, 0.15)
	response, err := learner.RecordFeedback(context.Background(), 1, entity.FeedbackRequest{
		ArtifactID: "art-1",
		Rating:     5,
	})
	if err != nil {
		t.Fatalf("record feedback: %v", err)
	}
	if response.FeedbackID == 0 {
		t.Fatal("feedback event should be persisted")
	}
	if response.LearningEvent == nil {
		t.Fatal("learning event missing")
	}
	if response.Reward <= 0 || response.Reward > 1 {
		t.Fatalf("reward out of (0,1]: %v", response.Reward)
	}
	if len(repo.rewards) != 1 {
		t.Fatalf("expected one reward record, got %d", len(repo.rewards))
	}

	// 画像按需初始化为均匀分布后再应用增量
	dist := distributionOf(t, repo, 1, entity.CategoryColor)
	if math.Abs(dist.Sum()-1.0) > 1e-6 {
		t.Fatalf("distribution must sum to 1, got %v", dist.Sum())
	}
}

func TestRewardClamped(t *testing.T) {
	repo := newStubRepo()
	learner := NewPreferenceLearner(repo, 0.15)

	feedback := &entity.DbFeedbackEvent{ID: 1, UserID: 1, Rating: 5}
	artifact := &entity.DbArtifact{ID: "art-1", OverallScore: 100}

	reward := learner.recordReward(context.Background(), 1, feedback, artifact)
	if reward < 0 || reward > 1 {
		t.Fatalf("reward must be clamped to [0,1], got %v", reward)
	}
}

func TestRewardTrend(t *testing.T) {
	repo := newStubRepo()
	learner := NewPreferenceLearner(repo, 0.15)

	// 先低后高的奖励序列，趋势应为正
	for i := 0; i < 20; i++ {
		reward := 0.2
		if i >= 10 {
			reward = 0.8
		}
		if err := repo.CreateRewardRecord(context.Background(), &entity.DbRewardRecord{
			UserID: 1,
			Reward: reward,
		}); err != nil {
			t.Fatalf("create reward: %v", err)
		}
	}

	trend, err := learner.RewardTrend(context.Background(), 1)
	if err != nil {
		t.Fatalf("reward trend: %v", err)
	}
	if trend.Count != 20 {
		t.Fatalf("expected 20 records, got %d", trend.Count)
	}
	if trend.Trend <= 0 {
		t.Fatalf("improving rewards should show positive trend, got %v", trend.Trend)
	}
}

func TestConcurrentFeedbackSameUser(t *testing.T) {
	repo := newStubRepo()
	profileWith(t, repo, 1, entity.DistributionSet{
		entity.CategoryColor: {"black": 0.5, "red": 0.5},
	})

	learner := NewPreferenceLearner(repo, 0.15)
	artifact := &entity.DbArtifact{
		ID:         "art-1",
		Attributes: entity.JSONMap{"color": "red"},
	}

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 10; i++ {
				feedback := &entity.DbFeedbackEvent{UserID: 1, Selected: true}
				learner.ApplyFeedback(context.Background(), 1, feedback, artifact)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	// 并发更新不丢失：每次 ApplyFeedback 各计一次
	profile, err := repo.GetStyleProfile(context.Background(), 1)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile.UpdateCount != 80 {
		t.Fatalf("expected 80 updates, got %d", profile.UpdateCount)
	}
	dist := distributionOf(t, repo, 1, entity.CategoryColor)
	if math.Abs(dist.Sum()-1.0) > 1e-6 {
		t.Fatalf("distribution must sum to 1 after concurrent updates, got %v", dist.Sum())
	}
}
