package content

import (
	"errors"
	"fmt"
	"strings"
)

// OutputKind tags the media type of a content item's generated output.
type OutputKind string

const (
	OutputKindImage OutputKind = "image"
	OutputKindVideo OutputKind = "video"
	OutputKindText  OutputKind = "text"
	OutputKindAudio OutputKind = "audio"
)

var (
	// ErrInvalidOutputKind indicates an output kind outside the supported set.
	ErrInvalidOutputKind = errors.New("content: invalid output kind")
	// ErrInvalidCategory indicates a category label outside the closed set.
	ErrInvalidCategory = errors.New("content: invalid category")
)

// Categories is the closed set of content category labels.
var Categories = []string{
	"Art",
	"Writing",
	"Code",
	"Music",
	"Photography",
	"Design",
	"Ideas",
	"Other",
}

// ParseOutputKind validates raw input against the supported output kinds.
func ParseOutputKind(raw string) (OutputKind, error) {
	switch OutputKind(strings.ToLower(strings.TrimSpace(raw))) {
	case OutputKindImage:
		return OutputKindImage, nil
	case OutputKindVideo:
		return OutputKindVideo, nil
	case OutputKindText:
		return OutputKindText, nil
	case OutputKindAudio:
		return OutputKindAudio, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOutputKind, raw)
	}
}

// ValidateCategory accepts the empty string (no category) or a label from
// the closed category set.
func ValidateCategory(category string) error {
	if category == "" {
		return nil
	}
	for _, known := range Categories {
		if category == known {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidCategory, category)
}

// ContentItem models a shared post pairing a generation prompt with its
// AI-produced output. Body stores the author's reflection and the prompt
// as a single delimited field; LikeCount is a cached aggregate whose
// source of truth is the likes table.
type ContentItem struct {
	ItemID           string `gorm:"column:item_id;primaryKey;size:190;not null"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;index"`
	Body             string `gorm:"column:body;type:text;not null"`
	OutputRef        string `gorm:"column:output_ref;size:1024"`
	OutputKind       string `gorm:"column:output_kind;size:16;not null;default:text"`
	ModelLabel       string `gorm:"column:model_label;size:190"`
	Category         string `gorm:"column:category;size:64"`
	LikeCount        int64  `gorm:"column:like_count;not null;default:0"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_content_created"`
}

// TableName provides the explicit table binding for GORM.
func (ContentItem) TableName() string {
	return "content_items"
}
