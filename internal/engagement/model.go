package engagement

// Like marks a (viewer, content item) pair; existence implies "liked".
// The pair is unique, so the row set is the sole source of truth for a
// viewer's like state.
type Like struct {
	LikeID           string `gorm:"column:like_id;primaryKey;size:190;not null"`
	ViewerID         string `gorm:"column:viewer_id;size:190;not null;uniqueIndex:idx_like_viewer_item,priority:1"`
	ItemID           string `gorm:"column:item_id;size:190;not null;uniqueIndex:idx_like_viewer_item,priority:2;index"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Like) TableName() string {
	return "likes"
}

// Comment is a persisted remark on a content item.
type Comment struct {
	CommentID        string `gorm:"column:comment_id;primaryKey;size:190;not null"`
	ItemID           string `gorm:"column:item_id;size:190;not null;index"`
	AuthorID         string `gorm:"column:author_id;size:190;not null"`
	Body             string `gorm:"column:body;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}
