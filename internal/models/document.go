package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Document is one ingested report file. Rows are written by the upstream
// ingestion subsystem; this service only flips Processed.
type Document struct {
	ID           string     `gorm:"column:id;primaryKey;size:36" json:"id"`
	Format       string     `gorm:"column:format;not null;index;size:64" json:"format"` // e.g. "spreadsheet", "report"
	FileName     string     `gorm:"column:file_name;size:512" json:"fileName"`
	PartID       string     `gorm:"column:part_id;size:128" json:"partId"`
	SerialNumber string     `gorm:"column:serial_number;size:128;index" json:"serialNumber"`
	DocType      string     `gorm:"column:doc_type;size:64" json:"docType"`
	Processed    bool       `gorm:"column:processed;not null;default:false;index" json:"processed"`
	ProcessedAt  *time.Time `gorm:"column:processed_at" json:"processedAt"`
	Rows         []Row      `gorm:"foreignKey:DocumentID" json:"rows,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName specifies the table name
func (Document) TableName() string {
	return "documents"
}

// BeforeCreate assigns a UUID when the ingester did not supply one
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if strings.TrimSpace(d.ID) == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// Row is one extracted (row number, field name, value) fact of a Document
type Row struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	DocumentID string `gorm:"column:document_id;not null;size:36;index:idx_row_doc_number,priority:1" json:"documentId"`
	RowNumber  int    `gorm:"column:row_num;not null;index:idx_row_doc_number,priority:2" json:"rowNumber"`
	FieldName  string `gorm:"column:field_name;not null;size:255" json:"fieldName"`
	Value      string `gorm:"column:value" json:"value"`
}

// TableName specifies the table name
func (Row) TableName() string {
	return "document_rows"
}
