package service

import (
	"atelier/internal/entity"
	"atelier/internal/model"
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 各反馈类别的固定增量
const (
	deltaExplicitPositive = 0.10
	deltaExplicitNegative = -0.05
	deltaCorrectionBoost  = 0.30
	deltaCorrectionDamp   = -0.15
	deltaImplicitNegative = -0.02
)

// 奖励各信号分量的权重
const (
	rewardWeightFeedback   = 0.4
	rewardWeightValidation = 0.3
	rewardWeightAlignment  = 0.2
	rewardWeightCost       = 0.1
)

const profileLockStripes = 64

// PreferenceLearner 把反馈事件转成画像增量与奖励记录。
// 同一用户的画像更新串行执行，不同用户完全并行。
type PreferenceLearner struct {
	repo    model.Repository
	epsilon float64

	locks [profileLockStripes]sync.Mutex
}

// NewPreferenceLearner 创建偏好学习器。epsilon 为新画像的初始探索率。
func NewPreferenceLearner(repo model.Repository, epsilon float64) *PreferenceLearner {
	if epsilon <= 0 || epsilon >= 1 {
		epsilon = 0.15
	}
	return &PreferenceLearner{
		repo:    repo,
		epsilon: epsilon,
	}
}

func (l *PreferenceLearner) userLock(userID uint) *sync.Mutex {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d", userID)
	return &l.locks[h.Sum32()%profileLockStripes]
}

// ApplyFeedback 处理一条显式反馈：分类、计算增量、更新画像、落审计与奖励记录。
// 任何一步失败都只记录日志并丢弃事件，不阻塞调用方。
func (l *PreferenceLearner) ApplyFeedback(ctx context.Context, userID uint, feedback *entity.DbFeedbackEvent, artifact *entity.DbArtifact) (*entity.DbLearningEvent, float64, error) {
	if feedback == nil {
		return nil, 0, fmt.Errorf("feedback is nil")
	}

	class := classifyFeedback(feedback)
	deltas := l.feedbackDeltas(class, artifact)

	// 文字修正优先级最高，覆盖同键的类别增量
	source := entity.FeedbackSourceExplicit
	var terms entity.StringArray
	if corrections := extractCorrections(feedback.Comments); len(corrections) > 0 {
		source = entity.FeedbackSourceCorrection
		merged := deltas.Clone()
		if merged == nil {
			merged = make(entity.FloatMap, len(corrections))
		}
		for key, delta := range corrections {
			merged[key] = delta
			terms = append(terms, key)
		}
		sort.Strings(terms)
		deltas = merged
	}

	event := &entity.DbLearningEvent{
		UserID:          userID,
		FeedbackID:      feedback.ID,
		Source:          source,
		Class:           class,
		Deltas:          deltas,
		CorrectionTerms: terms,
	}

	if len(deltas) > 0 {
		if err := l.applyDeltas(ctx, userID, deltas); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"user_id":     userID,
				"feedback_id": feedback.ID,
			}).Error("learner_profile_update_failed")
			return nil, 0, err
		}
	}

	if err := l.repo.CreateLearningEvent(ctx, event); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("learner_event_persist_failed")
	}

	reward := l.recordReward(ctx, userID, feedback, artifact)

	logrus.WithFields(logrus.Fields{
		"user_id":     userID,
		"feedback_id": feedback.ID,
		"class":       class,
		"delta_cnt":   len(deltas),
		"reward":      reward,
	}).Info("learner_feedback_applied")

	return event, reward, nil
}

// RecordFeedback 是反馈入口：落反馈事件、更新画像并返回处理结果。
func (l *PreferenceLearner) RecordFeedback(ctx context.Context, userID uint, request entity.FeedbackRequest) (*entity.FeedbackResponse, error) {
	artifact, err := l.repo.GetArtifact(ctx, request.ArtifactID)
	if err != nil {
		return nil, fmt.Errorf("artifact not found: %w", err)
	}

	feedback := &entity.DbFeedbackEvent{
		UserID:     userID,
		ArtifactID: artifact.ID,
		RunID:      artifact.RunID,
		Rating:     request.Rating,
		Selected:   request.Selected,
		Rejected:   request.Rejected,
		Comments:   strings.TrimSpace(request.Comments),
	}
	if err := l.repo.CreateFeedbackEvent(ctx, feedback); err != nil {
		return nil, err
	}

	event, reward, err := l.ApplyFeedback(ctx, userID, feedback, artifact)
	if err != nil {
		// 事件已记录，画像更新失败不回滚反馈本身
		logrus.WithError(err).WithField("feedback_id", feedback.ID).Warn("learner_feedback_dropped")
	}

	response := &entity.FeedbackResponse{
		FeedbackID:    feedback.ID,
		LearningEvent: event,
		Reward:        reward,
	}
	if profile, profileErr := l.repo.GetStyleProfile(ctx, userID); profileErr == nil {
		response.ProfileVersion = profile.Version
	}
	return response, nil
}

// ApplyDiscardedAsNegative 把被过滤或未入选的产物作为低幅度隐式负反馈。
// 反复在某个属性值上产出劣质内容会逐渐侵蚀它的采样权重。
func (l *PreferenceLearner) ApplyDiscardedAsNegative(ctx context.Context, userID uint, discarded []*entity.DbArtifact) {
	if userID == 0 || len(discarded) == 0 {
		return
	}

	deltas := make(entity.FloatMap)
	for _, artifact := range discarded {
		for category, value := range artifact.AttributeEstimates() {
			deltas[deltaKey(category, value)] += deltaImplicitNegative
		}
	}
	if len(deltas) == 0 {
		return
	}

	if err := l.applyDeltas(ctx, userID, deltas); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("learner_implicit_update_failed")
		return
	}

	event := &entity.DbLearningEvent{
		UserID: userID,
		Source: entity.FeedbackSourceImplicit,
		Class:  entity.FeedbackClassNegative,
		Deltas: deltas,
	}
	if err := l.repo.CreateLearningEvent(ctx, event); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("learner_event_persist_failed")
	}
}

// Profile 返回用户画像，不存在时按默认词表初始化为均匀分布。
func (l *PreferenceLearner) Profile(ctx context.Context, userID uint) (*entity.DbStyleProfile, error) {
	profile, err := l.repo.GetStyleProfile(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	profile = &entity.DbStyleProfile{
		UserID:  userID,
		Epsilon: l.epsilon,
		Version: 1,
	}
	if err := profile.SetDistributionSet(entity.UniformDistributionSet(entity.DefaultAttributeVocabulary())); err != nil {
		return nil, err
	}
	if err := l.repo.CreateStyleProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// applyDeltas 读-改-归一-写，对单个用户持锁串行。
func (l *PreferenceLearner) applyDeltas(ctx context.Context, userID uint, deltas entity.FloatMap) error {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	profile, err := l.Profile(ctx, userID)
	if err != nil {
		return err
	}

	set, err := profile.DistributionSet()
	if err != nil {
		return err
	}
	if set == nil {
		set = entity.DistributionSet{}
	}

	byCategory := groupDeltas(deltas)
	for category, categoryDeltas := range byCategory {
		dist := set[category]
		if dist == nil {
			dist = entity.Distribution{}
		}

		next := make(entity.Distribution, len(dist)+len(categoryDeltas))
		for value, weight := range dist {
			next[value] = weight
		}
		for value, delta := range categoryDeltas {
			w := next[value] + delta
			if w < 0 {
				w = 0
			}
			if w > 1 {
				w = 1
			}
			next[value] = w
		}

		// 全零分布无法归一，保持原样
		if sum := next.Sum(); sum > 0 {
			for value, weight := range next {
				next[value] = weight / sum
			}
			set[category] = next
		}
	}

	if err := profile.SetDistributionSet(set); err != nil {
		return err
	}
	profile.Version++
	profile.UpdateCount++
	return l.repo.SaveStyleProfile(ctx, profile)
}

// feedbackDeltas 按反馈类别为产物属性生成增量。
func (l *PreferenceLearner) feedbackDeltas(class string, artifact *entity.DbArtifact) entity.FloatMap {
	if artifact == nil {
		return nil
	}

	var magnitude float64
	switch class {
	case entity.FeedbackClassPositive:
		magnitude = deltaExplicitPositive
	case entity.FeedbackClassNegative:
		magnitude = deltaExplicitNegative
	}
	if magnitude == 0 {
		return nil
	}

	deltas := make(entity.FloatMap)
	for category, value := range artifact.AttributeEstimates() {
		deltas[deltaKey(category, value)] = magnitude
	}
	return deltas
}

// extractCorrections 从自由文本评论中提取显式修正。
// 识别 "more <value>" 与 "less <value>" / "no <value>" 两类表述，取值限于默认词表。
func extractCorrections(comments string) entity.FloatMap {
	trimmed := strings.ToLower(strings.TrimSpace(comments))
	if trimmed == "" {
		return nil
	}

	vocab := entity.DefaultAttributeVocabulary()
	corrections := make(entity.FloatMap)
	words := strings.Fields(trimmed)
	for i := 0; i < len(words)-1; i++ {
		var magnitude float64
		switch strings.Trim(words[i], ".,!?") {
		case "more":
			magnitude = deltaCorrectionBoost
		case "less", "no":
			magnitude = deltaCorrectionDamp
		default:
			continue
		}
		target := strings.Trim(words[i+1], ".,!?")
		for _, category := range entity.AllCategories() {
			for _, value := range vocab[category] {
				if value == target {
					corrections[deltaKey(category, value)] = magnitude
				}
			}
		}
	}
	if len(corrections) == 0 {
		return nil
	}
	return corrections
}

// recordReward 计算并落一条加权奖励记录，失败只记日志。
func (l *PreferenceLearner) recordReward(ctx context.Context, userID uint, feedback *entity.DbFeedbackEvent, artifact *entity.DbArtifact) float64 {
	components := entity.FloatMap{
		"user_feedback":     feedbackSignal(feedback),
		"validation_score":  validationSignal(artifact),
		"persona_alignment": l.alignmentSignal(ctx, userID, artifact),
		"cost_efficiency":   costSignal(artifact),
	}

	reward := rewardWeightFeedback*components["user_feedback"] +
		rewardWeightValidation*components["validation_score"] +
		rewardWeightAlignment*components["persona_alignment"] +
		rewardWeightCost*components["cost_efficiency"]
	if reward < 0 {
		reward = 0
	}
	if reward > 1 {
		reward = 1
	}

	record := &entity.DbRewardRecord{
		UserID:     userID,
		RunID:      feedback.RunID,
		ArtifactID: feedback.ArtifactID,
		Components: components,
		Reward:     reward,
	}
	if err := l.repo.CreateRewardRecord(ctx, record); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("learner_reward_persist_failed")
	}
	return reward
}

// RewardTrend 汇总用户的纵向奖励统计：全量均值、近期均值与趋势差。
func (l *PreferenceLearner) RewardTrend(ctx context.Context, userID uint) (*entity.RewardTrendResponse, error) {
	records, err := l.repo.ListRewardRecords(ctx, userID, 200)
	if err != nil {
		return nil, err
	}

	trend := &entity.RewardTrendResponse{Count: len(records)}
	if len(records) == 0 {
		return trend, nil
	}

	var sum float64
	for _, r := range records {
		sum += r.Reward
	}
	trend.Mean = sum / float64(len(records))

	// 记录按时间倒序，前 10 条即最近一批
	recent := records
	if len(recent) > 10 {
		recent = recent[:10]
	}
	var recentSum float64
	for _, r := range recent {
		recentSum += r.Reward
	}
	trend.RecentMean = recentSum / float64(len(recent))
	trend.Trend = trend.RecentMean - trend.Mean
	return trend, nil
}

// Metrics 汇总画像表现：选择率、驳回率、平均评分与奖励走势。
func (l *PreferenceLearner) Metrics(ctx context.Context, userID uint) (*entity.ProfileMetricsResponse, error) {
	events, err := l.repo.ListFeedbackEvents(ctx, userID, 200)
	if err != nil {
		return nil, err
	}

	metrics := &entity.ProfileMetricsResponse{FeedbackCount: len(events)}
	if len(events) > 0 {
		selected, rejected, rated := 0, 0, 0
		var ratingSum float64
		for _, e := range events {
			if e.Selected {
				selected++
			}
			if e.Rejected {
				rejected++
			}
			if e.Rating > 0 {
				rated++
				ratingSum += float64(e.Rating)
			}
		}
		metrics.SelectionRate = float64(selected) / float64(len(events))
		metrics.RejectionRate = float64(rejected) / float64(len(events))
		if rated > 0 {
			metrics.AverageRating = ratingSum / float64(rated)
		}
	}

	trend, err := l.RewardTrend(ctx, userID)
	if err != nil {
		return nil, err
	}
	metrics.RewardMean = trend.Mean
	metrics.RewardTrend = trend.Trend
	return metrics, nil
}

// classifyFeedback 由评分与选择/驳回标记派生反馈类别。
func classifyFeedback(feedback *entity.DbFeedbackEvent) string {
	switch {
	case feedback.Rejected:
		return entity.FeedbackClassNegative
	case feedback.Selected:
		return entity.FeedbackClassPositive
	case feedback.Rating >= 4:
		return entity.FeedbackClassPositive
	case feedback.Rating > 0 && feedback.Rating <= 2:
		return entity.FeedbackClassNegative
	default:
		return entity.FeedbackClassNeutral
	}
}

// feedbackSignal 把评分/选择映射到 [0,1]。
func feedbackSignal(feedback *entity.DbFeedbackEvent) float64 {
	if feedback == nil {
		return 0.5
	}
	if feedback.Rating > 0 {
		return (float64(feedback.Rating) - 1) / 4
	}
	if feedback.Selected {
		return 1
	}
	if feedback.Rejected {
		return 0
	}
	return 0.5
}

func validationSignal(artifact *entity.DbArtifact) float64 {
	if artifact == nil {
		return 0
	}
	return artifact.OverallScore / 100
}

// alignmentSignal 衡量产物属性与画像当前偏好的契合度。
func (l *PreferenceLearner) alignmentSignal(ctx context.Context, userID uint, artifact *entity.DbArtifact) float64 {
	if artifact == nil || userID == 0 {
		return 0.5
	}
	profile, err := l.repo.GetStyleProfile(ctx, userID)
	if err != nil {
		return 0.5
	}
	set, err := profile.DistributionSet()
	if err != nil || len(set) == 0 {
		return 0.5
	}

	estimates := artifact.AttributeEstimates()
	if len(estimates) == 0 {
		return 0.5
	}

	var sum float64
	counted := 0
	for category, value := range estimates {
		dist, ok := set[category]
		if !ok || len(dist) == 0 {
			continue
		}
		// 命中权重相对均匀权重放大到 [0,1] 区间
		uniform := 1.0 / float64(len(dist))
		weight := dist[value]
		score := weight / (uniform * 2)
		if score > 1 {
			score = 1
		}
		sum += score
		counted++
	}
	if counted == 0 {
		return 0.5
	}
	return sum / float64(counted)
}

// costSignal 以验证通过与否近似成本效率：被驳回的生成是纯浪费。
func costSignal(artifact *entity.DbArtifact) float64 {
	if artifact == nil {
		return 0
	}
	if artifact.IsRejected {
		return 0
	}
	return 1
}

func deltaKey(category entity.AttributeCategory, value string) string {
	return fmt.Sprintf("%s:%s", category, strings.ToLower(strings.TrimSpace(value)))
}

func groupDeltas(deltas entity.FloatMap) map[entity.AttributeCategory]map[string]float64 {
	out := make(map[entity.AttributeCategory]map[string]float64)
	for key, delta := range deltas {
		parts := strings.SplitN(key, ":", 2)
		if len(parts) != 2 {
			continue
		}
		category := entity.AttributeCategory(parts[0])
		if !entity.IsValidCategory(category) {
			continue
		}
		if out[category] == nil {
			out[category] = make(map[string]float64)
		}
		out[category][parts[1]] += delta
	}
	return out
}
