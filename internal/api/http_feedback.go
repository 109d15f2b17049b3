package api

import (
	"atelier/internal/entity"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SubmitFeedback 记录用户对某个产物的反馈并更新画像。
func (h *HTTPHandler) SubmitFeedback(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var request entity.FeedbackRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feedback payload"})
		return
	}
	request.ArtifactID = strings.TrimSpace(request.ArtifactID)
	if request.ArtifactID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "artifact_id is required"})
		return
	}
	if request.Selected && request.Rejected {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feedback cannot be both selected and rejected"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	response, err := h.learner.RecordFeedback(ctx, requestUser.ID, request)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, APIError{Code: ErrCodeArtifactNotFound, Message: "产物不存在"})
			return
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id":     requestUser.ID,
			"artifact_id": request.ArtifactID,
		}).Error("failed to record feedback")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record feedback"})
		return
	}

	c.JSON(http.StatusCreated, response)
}

// GetStyleProfile 返回当前用户的风格画像，不存在时返回初始画像。
func (h *HTTPHandler) GetStyleProfile(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	profile, err := h.learner.Profile(ctx, requestUser.ID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", requestUser.ID).Error("failed to load style profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load style profile"})
		return
	}

	set, err := profile.DistributionSet()
	if err != nil {
		logrus.WithError(err).WithField("user_id", requestUser.ID).Error("failed to decode style profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to decode style profile"})
		return
	}

	c.JSON(http.StatusOK, entity.StyleProfileResponse{
		UserID:        profile.UserID,
		Distributions: set,
		Epsilon:       profile.Epsilon,
		Version:       profile.Version,
		UpdateCount:   profile.UpdateCount,
		UpdatedAt:     profile.UpdatedAt,
	})
}

// GetProfileMetrics 返回画像表现指标（选择率、驳回率、平均评分、奖励）。
func (h *HTTPHandler) GetProfileMetrics(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	metrics, err := h.learner.Metrics(ctx, requestUser.ID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", requestUser.ID).Error("failed to load profile metrics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile metrics"})
		return
	}

	c.JSON(http.StatusOK, metrics)
}

// GetRewardTrend 返回纵向奖励趋势。
func (h *HTTPHandler) GetRewardTrend(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	trend, err := h.learner.RewardTrend(ctx, requestUser.ID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", requestUser.ID).Error("failed to load reward trend")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load reward trend"})
		return
	}

	c.JSON(http.StatusOK, trend)
}
