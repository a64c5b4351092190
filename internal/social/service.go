package social

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pinprompt/backend/internal/notifications"
	"github.com/pinprompt/backend/internal/profiles"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrSelfFollow indicates an attempt to follow one's own profile.
	ErrSelfFollow = errors.New("social: cannot follow self")
)

// FollowEdge is a directed (follower, followee) pair, unique per pair.
type FollowEdge struct {
	FollowerID       string `gorm:"column:follower_id;primaryKey;size:190;not null"`
	FolloweeID       string `gorm:"column:followee_id;primaryKey;size:190;not null;index"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (FollowEdge) TableName() string {
	return "follow_edges"
}

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "social.service.new"
	opFollow        = "social.follow"
	opUnfollow      = "social.unfollow"
	opIsFollowing   = "social.is_following"
	opListFollowers = "social.list_followers"
	opListFollowing = "social.list_following"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the follow-graph dependencies. Profiles is used
// to invalidate cached session rows after counter updates; Notifications
// is the best-effort follow notification channel. Both are optional.
type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	Profiles      *profiles.Service
	Notifications *notifications.Service
	Logger        *zap.Logger
}

// Service maintains follow edges and the paired denormalized counters.
// Edge and both counters move in one transaction, closing the
// partial-application window the edge set would otherwise drift through.
type Service struct {
	db            *gorm.DB
	clock         func() time.Time
	profiles      *profiles.Service
	notifications *notifications.Service
	logger        *zap.Logger
}

// NewService constructs the social service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:            cfg.Database,
		clock:         clock,
		profiles:      cfg.Profiles,
		notifications: cfg.Notifications,
		logger:        logger,
	}, nil
}

// Follow creates the edge and bumps both counters atomically. Following an
// already-followed profile is a no-op.
func (s *Service) Follow(ctx context.Context, followerID, followeeID string) error {
	if followerID == followeeID {
		return newServiceError(opFollow, "self_follow", ErrSelfFollow)
	}

	created := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing FollowEdge
		err := tx.Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
			Take(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		edge := FollowEdge{
			FollowerID:       followerID,
			FolloweeID:       followeeID,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Create(&edge).Error; err != nil {
			return err
		}
		if err := tx.Model(&profiles.Profile{}).
			Where("profile_id = ?", followeeID).
			UpdateColumn("follower_count", gorm.Expr("follower_count + 1")).Error; err != nil {
			return err
		}
		if err := tx.Model(&profiles.Profile{}).
			Where("profile_id = ?", followerID).
			UpdateColumn("following_count", gorm.Expr("following_count + 1")).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if txErr != nil {
		s.logError(opFollow, "transaction_failed", txErr,
			zap.String("follower_id", followerID),
			zap.String("followee_id", followeeID))
		return newServiceError(opFollow, "transaction_failed", txErr)
	}
	if !created {
		return nil
	}

	s.invalidateProfiles(followerID, followeeID)
	s.notifyFollow(ctx, followerID, followeeID)
	return nil
}

// Unfollow removes the edge and decrements both counters atomically,
// clamped at zero. Unfollowing a non-followed profile is a no-op.
func (s *Service) Unfollow(ctx context.Context, followerID, followeeID string) error {
	removed := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
			Delete(&FollowEdge{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		if err := tx.Model(&profiles.Profile{}).
			Where("profile_id = ?", followeeID).
			UpdateColumn("follower_count", gorm.Expr("CASE WHEN follower_count > 0 THEN follower_count - 1 ELSE 0 END")).Error; err != nil {
			return err
		}
		if err := tx.Model(&profiles.Profile{}).
			Where("profile_id = ?", followerID).
			UpdateColumn("following_count", gorm.Expr("CASE WHEN following_count > 0 THEN following_count - 1 ELSE 0 END")).Error; err != nil {
			return err
		}
		removed = true
		return nil
	})
	if txErr != nil {
		s.logError(opUnfollow, "transaction_failed", txErr,
			zap.String("follower_id", followerID),
			zap.String("followee_id", followeeID))
		return newServiceError(opUnfollow, "transaction_failed", txErr)
	}
	if removed {
		s.invalidateProfiles(followerID, followeeID)
	}
	return nil
}

// IsFollowing reports whether the directed edge exists.
func (s *Service) IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&FollowEdge{}).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Count(&count).Error; err != nil {
		s.logError(opIsFollowing, "query_failed", err)
		return false, newServiceError(opIsFollowing, "query_failed", err)
	}
	return count > 0, nil
}

// ListFollowers returns profile ids following the given profile.
func (s *Service) ListFollowers(ctx context.Context, profileID string) ([]string, error) {
	var edges []FollowEdge
	if err := s.db.WithContext(ctx).
		Where("followee_id = ?", profileID).
		Order("created_at_s DESC").
		Find(&edges).Error; err != nil {
		s.logError(opListFollowers, "query_failed", err, zap.String("profile_id", profileID))
		return nil, newServiceError(opListFollowers, "query_failed", err)
	}
	followers := make([]string, 0, len(edges))
	for _, edge := range edges {
		followers = append(followers, edge.FollowerID)
	}
	return followers, nil
}

// ListFollowing returns profile ids the given profile follows.
func (s *Service) ListFollowing(ctx context.Context, profileID string) ([]string, error) {
	var edges []FollowEdge
	if err := s.db.WithContext(ctx).
		Where("follower_id = ?", profileID).
		Order("created_at_s DESC").
		Find(&edges).Error; err != nil {
		s.logError(opListFollowing, "query_failed", err, zap.String("profile_id", profileID))
		return nil, newServiceError(opListFollowing, "query_failed", err)
	}
	following := make([]string, 0, len(edges))
	for _, edge := range edges {
		following = append(following, edge.FolloweeID)
	}
	return following, nil
}

func (s *Service) invalidateProfiles(ids ...string) {
	if s.profiles == nil {
		return
	}
	for _, id := range ids {
		s.profiles.InvalidateCache(id)
	}
}

func (s *Service) notifyFollow(ctx context.Context, followerID, followeeID string) {
	if s.notifications == nil {
		return
	}
	title := "New follower"
	body := "Someone started following you"
	if s.profiles != nil {
		if follower, err := s.profiles.Get(ctx, followerID); err == nil {
			body = "@" + follower.Handle + " started following you"
		}
	}
	_, err := s.notifications.Create(ctx, notifications.CreateInput{
		RecipientID: followeeID,
		Kind:        notifications.KindFollow,
		Title:       title,
		Body:        body,
		RelatedID:   followerID,
	})
	if err != nil {
		s.logger.Warn("follow notification failed",
			zap.String("follower_id", followerID),
			zap.String("followee_id", followeeID),
			zap.Error(err))
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("social service error", attrs...)
}
