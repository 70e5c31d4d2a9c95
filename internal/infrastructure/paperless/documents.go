package paperless

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type documentDTO struct {
	ID               int64            `json:"id"`
	Title            string           `json:"title"`
	Content          string           `json:"content"`
	Created          string           `json:"created"`
	Correspondent    *int64           `json:"correspondent"`
	Tags             []int64          `json:"tags"`
	OriginalFileName string           `json:"original_file_name"`
	CustomFields     []customFieldDTO `json:"custom_fields"`
	Modified         *time.Time       `json:"modified"`
}

type customFieldDTO struct {
	Field int64 `json:"field"`
	Value any   `json:"value"`
}

type page[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}

func (d documentDTO) toDomain() domain.Document {
	doc := domain.Document{
		ID:               d.ID,
		Title:            d.Title,
		Content:          d.Content,
		Created:          d.Created,
		CorrespondentID:  d.Correspondent,
		TagIDs:           d.Tags,
		OriginalFileName: d.OriginalFileName,
	}
	if doc.TagIDs == nil {
		doc.TagIDs = []int64{}
	}
	for _, cf := range d.CustomFields {
		doc.CustomFields = append(doc.CustomFields, domain.CustomFieldValue{FieldID: cf.Field, Value: cf.Value})
	}
	if d.Modified != nil {
		doc.Modified = d.Modified.UTC()
	}
	return doc
}

// ListDocuments walks every result page of the tag-filtered document listing.
func (c *Client) ListDocuments(ctx context.Context, query domain.DocumentQuery) ([]domain.Document, error) {
	params := url.Values{}
	params.Set("page_size", strconv.Itoa(c.pageSize))
	params.Set("ordering", "id")
	if len(query.AllTagIDs) > 0 {
		params.Set("tags__id__all", joinIDs(query.AllTagIDs))
	}
	if len(query.NoneTagIDs) > 0 {
		params.Set("tags__id__none", joinIDs(query.NoneTagIDs))
	}

	out := make([]domain.Document, 0)
	for pageNo := 1; ; pageNo++ {
		params.Set("page", strconv.Itoa(pageNo))
		var resp page[documentDTO]
		if err := c.doJSON(ctx, http.MethodGet, "/api/documents/", params, nil, &resp, "list_documents"); err != nil {
			return nil, err
		}
		for _, d := range resp.Results {
			out = append(out, d.toDomain())
		}
		if resp.Next == nil || *resp.Next == "" || len(resp.Results) == 0 {
			break
		}
	}
	c.logger.Debugw("documents listed", "count", len(out), "all_tags", query.AllTagIDs, "none_tags", query.NoneTagIDs)
	return out, nil
}

func (c *Client) GetDocument(ctx context.Context, id int64) (*domain.Document, error) {
	var dto documentDTO
	if err := c.doJSON(ctx, http.MethodGet, documentPath(id, ""), nil, nil, &dto, "get_document"); err != nil {
		return nil, err
	}
	doc := dto.toDomain()
	return &doc, nil
}

func (c *Client) Thumbnail(ctx context.Context, id int64) (domain.Blob, error) {
	return c.fetchBlob(ctx, documentPath(id, "thumb/"), nil, "thumbnail")
}

// Download fetches the original upload, not the archived rendition.
func (c *Client) Download(ctx context.Context, id int64) (domain.Blob, error) {
	return c.fetchBlob(ctx, documentPath(id, "download/"), url.Values{"original": []string{"true"}}, "download")
}

// UpdateDocument sends one PATCH holding only the fields set on update.
func (c *Client) UpdateDocument(ctx context.Context, id int64, update domain.DocumentUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	body := map[string]any{}
	if update.Title != nil {
		body["title"] = *update.Title
	}
	if update.Created != nil {
		body["created"] = *update.Created
	}
	if update.CorrespondentID != nil {
		body["correspondent"] = *update.CorrespondentID
	}
	if update.TagIDs != nil {
		body["tags"] = update.TagIDs
	}
	if update.Content != nil {
		body["content"] = *update.Content
	}
	if update.CustomFields != nil {
		fields := make([]customFieldDTO, 0, len(update.CustomFields))
		for _, cf := range update.CustomFields {
			fields = append(fields, customFieldDTO{Field: cf.FieldID, Value: cf.Value})
		}
		body["custom_fields"] = fields
	}
	return c.doJSON(ctx, http.MethodPatch, documentPath(id, ""), nil, body, nil, "update_document")
}

func (c *Client) AddNote(ctx context.Context, id int64, note string) error {
	return c.doJSON(ctx, http.MethodPost, documentPath(id, "notes/"), nil, map[string]string{"note": note}, nil, "add_note")
}

func documentPath(id int64, suffix string) string {
	return "/api/documents/" + strconv.FormatInt(id, 10) + "/" + suffix
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}
