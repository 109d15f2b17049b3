package model

import (
	"atelier/internal/entity"
	"context"
	"time"
)

// Repository 定义数据库操作接口
type Repository interface {
	// 用户管理
	CreateUser(ctx context.Context, user *entity.DbUser) error
	UpdateUser(ctx context.Context, id uint, updates entity.UserUpdates) error
	GetUserByEmail(ctx context.Context, email string) (*entity.DbUser, error)
	GetUserByID(ctx context.Context, id uint) (*entity.DbUser, error)
	ListUsers(ctx context.Context, params *entity.UserQuery) ([]entity.DbUser, *entity.Meta, error)
	DeleteUser(ctx context.Context, id uint) error
	CountUsers(ctx context.Context) (int64, error)

	// 流水线运行
	CreatePipelineRun(ctx context.Context, run *entity.DbPipelineRun) error
	UpdatePipelineRun(ctx context.Context, id string, updates entity.RunUpdates) error
	GetPipelineRun(ctx context.Context, id string) (*entity.DbPipelineRun, error)
	ListPipelineRuns(ctx context.Context, params *entity.RunQuery) ([]entity.DbPipelineRun, *entity.Meta, error)
	// ProviderRunStats 返回某后端在窗口内所有已完成运行的统计切片，用于缓冲估计。
	ProviderRunStats(ctx context.Context, providerID string, since time.Time) ([]entity.ProviderRunStats, error)

	// 产物
	CreateArtifacts(ctx context.Context, artifacts []*entity.DbArtifact) error
	UpdateArtifact(ctx context.Context, id string, updates entity.ArtifactUpdates) error
	GetArtifact(ctx context.Context, id string) (*entity.DbArtifact, error)
	ListRunArtifacts(ctx context.Context, runID string) ([]entity.DbArtifact, error)

	// 风格画像
	CreateStyleProfile(ctx context.Context, profile *entity.DbStyleProfile) error
	GetStyleProfile(ctx context.Context, userID uint) (*entity.DbStyleProfile, error)
	SaveStyleProfile(ctx context.Context, profile *entity.DbStyleProfile) error

	// 反馈与学习
	CreateFeedbackEvent(ctx context.Context, event *entity.DbFeedbackEvent) error
	ListFeedbackEvents(ctx context.Context, userID uint, limit int) ([]entity.DbFeedbackEvent, error)
	CreateLearningEvent(ctx context.Context, event *entity.DbLearningEvent) error
	CreateRewardRecord(ctx context.Context, record *entity.DbRewardRecord) error
	ListRewardRecords(ctx context.Context, userID uint, limit int) ([]entity.DbRewardRecord, error)
}
