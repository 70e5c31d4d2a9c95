package domain

type EntityKind string

const (
	EntityTag           EntityKind = "tag"
	EntityCorrespondent EntityKind = "correspondent"
	EntityCustomField   EntityKind = "custom_field"
)

// Entity is a named store object referenced by id. It is cached, never persisted locally.
type Entity struct {
	Kind       EntityKind     `json:"kind"`
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

const CustomFieldTypeLongText = "longtext"
