package extensions

import (
	"time"

	"github.com/google/uuid"
)

// CustomFunction is a durable user-defined helper callable from dynamic
// segments, bare or through the api object. Source follows the segment
// grammar and is compiled at save time, so a broken function never
// reaches a render.
type CustomFunction struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Params      []string  `json:"params"`
	Source      string    `json:"source"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
