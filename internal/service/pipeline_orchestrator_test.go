package service

import (
	"atelier/internal/entity"
	"atelier/internal/genai"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"
)

// stubBackend 按调用序号生成确定性的远程链接，可指定某些序号失败。
type stubBackend struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (b *stubBackend) ProviderID() string   { return genai.ProviderOpenRouter }
func (b *stubBackend) DefaultModel() string { return "stub-model" }

func (b *stubBackend) Generate(ctx context.Context, req genai.GenerateRequest) (*genai.GenerateResult, error) {
	b.mu.Lock()
	idx := b.calls
	b.calls++
	b.mu.Unlock()
	if b.fail {
		return nil, errors.New("backend unavailable")
	}
	return &genai.GenerateResult{ContentURL: fmt.Sprintf("https://cdn.example.com/gen-%d.png", idx)}, nil
}

// rotatingValidator 从链接解析候选序号，轮换颜色属性并给出递增分数。
type rotatingValidator struct {
	baseScore float64
}

func (v *rotatingValidator) Validate(ctx context.Context, contentURL, prompt string, spec entity.AttributeSpec) (*entity.ValidationOutcome, error) {
	var idx int
	if _, err := fmt.Sscanf(contentURL, "https://cdn.example.com/gen-%d.png", &idx); err != nil {
		return nil, err
	}
	colors := entity.DefaultAttributeVocabulary()[entity.CategoryColor]
	return &entity.ValidationOutcome{
		OverallScore: v.baseScore + float64(idx),
		Consistency:  v.baseScore,
		StyleMatch:   v.baseScore,
		Attributes: entity.AttributeEstimates{
			entity.CategoryColor:   colors[idx%len(colors)],
			entity.CategoryGarment: "dress",
		},
	}, nil
}

func newTestOrchestrator(repo *stubRepo, backend genai.Backend, validator genai.Validator) *PipelineOrchestrator {
	return NewPipelineOrchestrator(
		repo,
		nil,
		genai.NewStaticRegistry(backend),
		NewBufferEstimator(repo, 10, 20, 30),
		NewQualityFilter(validator, genai.NewAttributeEmbedder(), 4),
		NewDiversitySelector(10),
		NewCoverageAnalyzer(),
		NewPreferenceLearner(repo, 0.15),
		genai.NewPromptBuilder(rand.New(rand.NewSource(7))),
	)
}

func testRequest(count int) entity.PipelineRequest {
	return entity.PipelineRequest{
		ProviderID: genai.ProviderOpenRouter,
		Prompt:     "午夜鸡尾酒系列",
		TargetSpec: map[string][]string{"color": {"black"}, "garment": {"dress"}},
		Count:      count,
	}
}

func runPipeline(t *testing.T, o *PipelineOrchestrator, repo *stubRepo, request entity.PipelineRequest) *entity.DbPipelineRun {
	t.Helper()
	run := &entity.DbPipelineRun{
		ID:             "run-01",
		UserID:         1,
		ProviderID:     request.ProviderID,
		Mode:           entity.RunModeSpecific,
		Status:         entity.RunStatusPending,
		Prompt:         request.Prompt,
		RequestedCount: request.Count,
	}
	if err := repo.CreatePipelineRun(context.Background(), run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	o.execute(run, request, request.Spec(), entity.RunModeSpecific)
	return run
}

func TestPipelineEndToEnd(t *testing.T) {
	repo := newStubRepo()
	backend := &stubBackend{}
	o := newTestOrchestrator(repo, backend, &rotatingValidator{baseScore: 75})

	request := testRequest(4)
	run := runPipeline(t, o, repo, request)

	stored, err := repo.GetPipelineRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != entity.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}

	// openrouter 默认缓冲 25%，4 个目标应展开为 5 个候选
	if backend.calls != 5 {
		t.Fatalf("expected 5 generation calls, got %d", backend.calls)
	}
	if stored.GeneratedCount != 5 || stored.AcceptedCount != 5 {
		t.Fatalf("unexpected counts: generated=%d accepted=%d", stored.GeneratedCount, stored.AcceptedCount)
	}
	if stored.SelectedCount != 4 {
		t.Fatalf("expected 4 selected, got %d", stored.SelectedCount)
	}

	artifacts, err := repo.ListRunArtifacts(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("list artifacts: %v", err)
	}
	kept, discarded := 0, 0
	for _, a := range artifacts {
		switch a.Status {
		case entity.ArtifactStatusKept:
			kept++
		case entity.ArtifactStatusDiscarded:
			discarded++
		default:
			t.Fatalf("unexpected artifact status %s", a.Status)
		}
	}
	if kept != 4 || discarded != 1 {
		t.Fatalf("expected 4 kept / 1 discarded, got %d / %d", kept, discarded)
	}

	// 落选产物应以隐式负反馈回灌画像
	repo.mu.Lock()
	learningEvents := len(repo.learning)
	repo.mu.Unlock()
	if learningEvents == 0 {
		t.Fatal("expected implicit learning event for discarded artifact")
	}
}

func TestPipelineRawFallbackWhenAllRejected(t *testing.T) {
	repo := newStubRepo()
	backend := &stubBackend{}
	// 所有候选分数远低于阈值，过滤后无可选产物
	o := newTestOrchestrator(repo, backend, &rotatingValidator{baseScore: 10})

	request := testRequest(3)
	run := runPipeline(t, o, repo, request)

	stored, err := repo.GetPipelineRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != entity.RunStatusDegraded {
		t.Fatalf("expected degraded, got %s", stored.Status)
	}
	if stored.SelectedCount != 3 {
		t.Fatalf("raw fallback should return requested count, got %d", stored.SelectedCount)
	}
}

func TestPipelineFailsWithoutArtifacts(t *testing.T) {
	repo := newStubRepo()
	backend := &stubBackend{fail: true}
	o := newTestOrchestrator(repo, backend, &rotatingValidator{baseScore: 75})

	var notified struct {
		runID  string
		status string
		errMsg string
	}
	o.SetNotifyFunc(func(clientID, runID, status, errMsg string) {
		notified.runID = runID
		notified.status = status
		notified.errMsg = errMsg
	})

	request := testRequest(2)
	request.ClientID = "client-01"
	run := runPipeline(t, o, repo, request)

	stored, err := repo.GetPipelineRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != entity.RunStatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if notified.runID != run.ID || notified.status != entity.RunStatusFailed || notified.errMsg == "" {
		t.Fatalf("unexpected notification: %+v", notified)
	}
}

func TestSubmitValidation(t *testing.T) {
	repo := newStubRepo()
	o := newTestOrchestrator(repo, &stubBackend{}, &rotatingValidator{baseScore: 75})

	cases := []struct {
		name    string
		mutate  func(*entity.PipelineRequest)
		wantErr bool
	}{
		{"未知提供商", func(r *entity.PipelineRequest) { r.ProviderID = "nonexistent" }, true},
		{"未知模式", func(r *entity.PipelineRequest) { r.Mode = "chaotic" }, true},
		{"未知属性维度", func(r *entity.PipelineRequest) { r.TargetSpec = map[string][]string{"mood": {"happy"}} }, true},
		{"合法请求", func(r *entity.PipelineRequest) {}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			request := testRequest(2)
			tc.mutate(&request)
			run, err := o.Submit(context.Background(), 1, request)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			if run.ID == "" || run.Status != entity.RunStatusPending {
				t.Fatalf("unexpected run: %+v", run)
			}
			waitForRunDone(t, repo, run.ID)
		})
	}
}

// waitForRunDone 轮询运行终态，避免异步执行与断言竞争。
func waitForRunDone(t *testing.T, repo *stubRepo, runID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := repo.GetPipelineRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("get run: %v", err)
		}
		switch run.Status {
		case entity.RunStatusCompleted, entity.RunStatusDegraded, entity.RunStatusFailed:
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run never reached terminal status")
}
