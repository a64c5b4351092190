package profiles

import "strings"

// Profile captures a PinPrompt account: identity, unique handle, optional
// avatar and biography, and the denormalized follow counters maintained by
// the social service.
type Profile struct {
	ProfileID        string `gorm:"column:profile_id;primaryKey;size:190;not null"`
	Handle           string `gorm:"column:handle;size:64;not null;uniqueIndex"`
	Email            string `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash     string `gorm:"column:password_hash;size:72;not null"`
	AvatarPath       string `gorm:"column:avatar_path;size:512"`
	Bio              string `gorm:"column:bio;type:text"`
	FollowerCount    int64  `gorm:"column:follower_count;not null;default:0"`
	FollowingCount   int64  `gorm:"column:following_count;not null;default:0"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName exposes the table backing profiles.
func (Profile) TableName() string {
	return "profiles"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
