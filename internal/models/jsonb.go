package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"chat_gateway/internal/providers"
)

// ContentParts stores the typed parts of a multi-part message as JSON text.
// A nil value maps to SQL NULL.
type ContentParts []providers.ContentPart

func (p ContentParts) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]providers.ContentPart(p))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *ContentParts) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("ContentParts: expected []byte or string, got %T", value)
	}

	if len(b) == 0 {
		*p = nil
		return nil
	}
	return json.Unmarshal(b, (*[]providers.ContentPart)(p))
}
