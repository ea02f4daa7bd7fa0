package storage

// DocumentRecord is the persisted document row. Content and roles are stored
// as JSON text so the block tree stays opaque to the schema.
type DocumentRecord struct {
	DocumentID       string `gorm:"column:document_id;primaryKey;size:190;not null"`
	Title            string `gorm:"column:title;size:512;not null;default:''"`
	ContentJSON      string `gorm:"column:content_json;type:text;not null"`
	RolesJSON        string `gorm:"column:roles_json;type:text;not null"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;index:idx_documents_owner"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index:idx_documents_updated"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentRecord) TableName() string {
	return "documents"
}

// CommentRecord is one persisted comment attached to a document.
type CommentRecord struct {
	CommentID        string `gorm:"column:comment_id;primaryKey;size:190;not null"`
	DocumentID       string `gorm:"column:document_id;size:190;not null;index:idx_comments_document,priority:1"`
	AuthorID         string `gorm:"column:author_id;size:190;not null"`
	Body             string `gorm:"column:body;type:text;not null"`
	Anchor           int    `gorm:"column:anchor;not null;default:-1"`
	Resolved         bool   `gorm:"column:resolved;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_comments_document,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (CommentRecord) TableName() string {
	return "document_comments"
}
