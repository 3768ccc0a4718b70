package util

import "github.com/google/uuid"

// NewID returns a prefixed random id such as "doc_3f1c...". Ids are UUIDv7
// so they sort by creation time.
func NewID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	if prefix == "" {
		return id.String()
	}
	return prefix + "_" + id.String()
}
