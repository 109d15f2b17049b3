package service

import (
	"atelier/internal/entity"
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// stubRepo 是测试用的内存版 Repository。
type stubRepo struct {
	mu sync.Mutex

	users     map[uint]*entity.DbUser
	runs      map[string]*entity.DbPipelineRun
	artifacts map[string]*entity.DbArtifact
	profiles  map[uint]*entity.DbStyleProfile
	feedback  []*entity.DbFeedbackEvent
	learning  []*entity.DbLearningEvent
	rewards   []*entity.DbRewardRecord

	providerStats    []entity.ProviderRunStats
	providerStatsErr error

	nextID uint
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		users:     make(map[uint]*entity.DbUser),
		runs:      make(map[string]*entity.DbPipelineRun),
		artifacts: make(map[string]*entity.DbArtifact),
		profiles:  make(map[uint]*entity.DbStyleProfile),
	}
}

func (r *stubRepo) allocID() uint {
	r.nextID++
	return r.nextID
}

func (r *stubRepo) CreateUser(ctx context.Context, user *entity.DbUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == 0 {
		user.ID = r.allocID()
	}
	r.users[user.ID] = user
	return nil
}

func (r *stubRepo) UpdateUser(ctx context.Context, id uint, updates entity.UserUpdates) error {
	return nil
}

func (r *stubRepo) GetUserByEmail(ctx context.Context, email string) (*entity.DbUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubRepo) GetUserByID(ctx context.Context, id uint) (*entity.DbUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubRepo) ListUsers(ctx context.Context, params *entity.UserQuery) ([]entity.DbUser, *entity.Meta, error) {
	return nil, &entity.Meta{}, nil
}

func (r *stubRepo) DeleteUser(ctx context.Context, id uint) error { return nil }

func (r *stubRepo) CountUsers(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.users)), nil
}

func (r *stubRepo) CreatePipelineRun(ctx context.Context, run *entity.DbPipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
	return nil
}

func (r *stubRepo) UpdatePipelineRun(ctx context.Context, id string, updates entity.RunUpdates) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if updates.Status != nil {
		run.Status = *updates.Status
	}
	if updates.SelectedCount != nil {
		run.SelectedCount = *updates.SelectedCount
	}
	if updates.GeneratedCount != nil {
		run.GeneratedCount = *updates.GeneratedCount
	}
	if updates.AcceptedCount != nil {
		run.AcceptedCount = *updates.AcceptedCount
	}
	if updates.DiscardRate != nil {
		run.DiscardRate = *updates.DiscardRate
	}
	return nil
}

func (r *stubRepo) GetPipelineRun(ctx context.Context, id string) (*entity.DbPipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		copied := *run
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubRepo) ListPipelineRuns(ctx context.Context, params *entity.RunQuery) ([]entity.DbPipelineRun, *entity.Meta, error) {
	return nil, &entity.Meta{}, nil
}

func (r *stubRepo) ProviderRunStats(ctx context.Context, providerID string, since time.Time) ([]entity.ProviderRunStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.providerStatsErr != nil {
		return nil, r.providerStatsErr
	}
	return r.providerStats, nil
}

func (r *stubRepo) CreateArtifacts(ctx context.Context, artifacts []*entity.DbArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range artifacts {
		r.artifacts[a.ID] = a
	}
	return nil
}

func (r *stubRepo) UpdateArtifact(ctx context.Context, id string, updates entity.ArtifactUpdates) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	artifact, ok := r.artifacts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if updates.Status != nil {
		artifact.Status = *updates.Status
	}
	return nil
}

func (r *stubRepo) GetArtifact(ctx context.Context, id string) (*entity.DbArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.artifacts[id]; ok {
		return a, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubRepo) ListRunArtifacts(ctx context.Context, runID string) ([]entity.DbArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.DbArtifact
	for _, a := range r.artifacts {
		if a.RunID == runID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *stubRepo) CreateStyleProfile(ctx context.Context, profile *entity.DbStyleProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.profiles[profile.UserID]; exists {
		return fmt.Errorf("profile already exists")
	}
	if profile.ID == 0 {
		profile.ID = r.allocID()
	}
	r.profiles[profile.UserID] = profile
	return nil
}

func (r *stubRepo) GetStyleProfile(ctx context.Context, userID uint) (*entity.DbStyleProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.profiles[userID]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubRepo) SaveStyleProfile(ctx context.Context, profile *entity.DbStyleProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *profile
	r.profiles[profile.UserID] = &copied
	return nil
}

func (r *stubRepo) CreateFeedbackEvent(ctx context.Context, event *entity.DbFeedbackEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.ID == 0 {
		event.ID = r.allocID()
	}
	r.feedback = append(r.feedback, event)
	return nil
}

func (r *stubRepo) ListFeedbackEvents(ctx context.Context, userID uint, limit int) ([]entity.DbFeedbackEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.DbFeedbackEvent
	for i := len(r.feedback) - 1; i >= 0 && len(out) < limit; i-- {
		if r.feedback[i].UserID == userID {
			out = append(out, *r.feedback[i])
		}
	}
	return out, nil
}

func (r *stubRepo) CreateLearningEvent(ctx context.Context, event *entity.DbLearningEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.ID == 0 {
		event.ID = r.allocID()
	}
	r.learning = append(r.learning, event)
	return nil
}

func (r *stubRepo) CreateRewardRecord(ctx context.Context, record *entity.DbRewardRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.ID == 0 {
		record.ID = r.allocID()
	}
	r.rewards = append(r.rewards, record)
	return nil
}

func (r *stubRepo) ListRewardRecords(ctx context.Context, userID uint, limit int) ([]entity.DbRewardRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.DbRewardRecord
	for i := len(r.rewards) - 1; i >= 0 && len(out) < limit; i-- {
		if r.rewards[i].UserID == userID {
			out = append(out, *r.rewards[i])
		}
	}
	return out, nil
}
