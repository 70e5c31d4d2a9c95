package domain

import "time"

// Document is the subset of store metadata the pipeline reads and writes.
type Document struct {
	ID               int64              `json:"id"`
	Title            string             `json:"title"`
	Content          string             `json:"content"`
	Created          string             `json:"created,omitempty"`
	CorrespondentID  *int64             `json:"correspondent,omitempty"`
	TagIDs           []int64            `json:"tags"`
	OriginalFileName string             `json:"original_file_name,omitempty"`
	CustomFields     []CustomFieldValue `json:"custom_fields,omitempty"`
	Modified         time.Time          `json:"modified,omitempty"`
}

type CustomFieldValue struct {
	FieldID int64 `json:"field"`
	Value   any   `json:"value"`
}

// HasTag reports whether the document carries the label id.
func (d *Document) HasTag(id int64) bool {
	for _, tagID := range d.TagIDs {
		if tagID == id {
			return true
		}
	}
	return false
}

// DocumentQuery filters store listings by label ids.
type DocumentQuery struct {
	AllTagIDs  []int64
	NoneTagIDs []int64
}

// DocumentUpdate is a single combined metadata write. Nil fields are left untouched.
type DocumentUpdate struct {
	Title           *string
	Created         *string
	CorrespondentID *int64
	TagIDs          []int64
	Content         *string
	CustomFields    []CustomFieldValue
}

// IsEmpty reports whether the update would change nothing.
func (u DocumentUpdate) IsEmpty() bool {
	return u.Title == nil && u.Created == nil && u.CorrespondentID == nil &&
		u.TagIDs == nil && u.Content == nil && u.CustomFields == nil
}

// Blob is a downloaded file with its reported content type.
type Blob struct {
	Data        []byte
	ContentType string
	FileName    string
}

// IsPDF reports whether the blob holds a PDF, by content type or magic bytes.
func (b Blob) IsPDF() bool {
	if b.ContentType == "application/pdf" {
		return true
	}
	return len(b.Data) >= 5 && string(b.Data[:5]) == "%PDF-"
}
