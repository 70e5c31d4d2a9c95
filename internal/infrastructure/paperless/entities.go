package paperless

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type entityDTO struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	DataType string `json:"data_type,omitempty"`
}

func (e entityDTO) toDomain(kind domain.EntityKind) domain.Entity {
	out := domain.Entity{Kind: kind, ID: e.ID, Name: e.Name}
	if e.DataType != "" {
		out.Attributes = map[string]any{"data_type": e.DataType}
	}
	return out
}

func entityPath(kind domain.EntityKind) (string, error) {
	switch kind {
	case domain.EntityTag:
		return "/api/tags/", nil
	case domain.EntityCorrespondent:
		return "/api/correspondents/", nil
	case domain.EntityCustomField:
		return "/api/custom_fields/", nil
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "entity path", errors.Newf("unknown entity kind %q", kind))
	}
}

func (c *Client) ListEntities(ctx context.Context, kind domain.EntityKind) ([]domain.Entity, error) {
	path, err := entityPath(kind)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("page_size", strconv.Itoa(c.pageSize))

	out := make([]domain.Entity, 0)
	for pageNo := 1; ; pageNo++ {
		params.Set("page", strconv.Itoa(pageNo))
		var resp page[entityDTO]
		if err := c.doJSON(ctx, http.MethodGet, path, params, nil, &resp, "list_"+string(kind)); err != nil {
			return nil, err
		}
		for _, e := range resp.Results {
			out = append(out, e.toDomain(kind))
		}
		if resp.Next == nil || *resp.Next == "" || len(resp.Results) == 0 {
			break
		}
	}
	return out, nil
}

// FindEntity looks an entity up by case-insensitive exact name; nil when absent.
func (c *Client) FindEntity(ctx context.Context, kind domain.EntityKind, name string) (*domain.Entity, error) {
	path, err := entityPath(kind)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("name__iexact", name)

	var resp page[entityDTO]
	if err := c.doJSON(ctx, http.MethodGet, path, params, nil, &resp, "find_"+string(kind)); err != nil {
		return nil, err
	}
	for _, e := range resp.Results {
		if strings.EqualFold(e.Name, name) {
			found := e.toDomain(kind)
			return &found, nil
		}
	}
	return nil, nil
}

// CreateEntity creates a named entity. A name clash comes back as ErrConflict.
// Labels and correspondents are created with automatic matching disabled.
func (c *Client) CreateEntity(ctx context.Context, kind domain.EntityKind, name string, attrs map[string]any) (*domain.Entity, error) {
	path, err := entityPath(kind)
	if err != nil {
		return nil, err
	}
	body := map[string]any{"name": name}
	switch kind {
	case domain.EntityCustomField:
		body["data_type"] = domain.CustomFieldTypeLongText
	default:
		body["matching_algorithm"] = 0
	}
	for k, v := range attrs {
		body[k] = v
	}

	var created entityDTO
	if err := c.doJSON(ctx, http.MethodPost, path, nil, body, &created, "create_"+string(kind)); err != nil {
		return nil, err
	}
	c.logger.Infow("entity created", "kind", kind, "name", name, "id", created.ID)
	out := created.toDomain(kind)
	return &out, nil
}
