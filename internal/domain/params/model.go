package params

import (
	"time"

	"github.com/google/uuid"
)

// Parameter value types.
const (
	TypeNumber = "number"
	TypeString = "string"
)

// Admixture modes. In 2-in-1 mode lipids infuse separately from the base
// solution, so concentration formulas divide by the non-lipid volume
// rather than the total volume.
const (
	ModeThreeInOne = "3-in-1"
	ModeTwoInOne   = "2-in-1"
)

// Definition describes one clinical parameter: its canonical key, display
// metadata and value type.
type Definition struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Unit     string `json:"unit,omitempty"`
	Category string `json:"category,omitempty"`
	Type     string `json:"type"`
}

// DerivedSpec names a computed parameter and the keys its formula reads.
type DerivedSpec struct {
	Key      string   `json:"key"`
	Requires []string `json:"requires"`
}

// Preference is a per-user display or behavior setting, such as unit
// system or numeric precision, exposed to dynamic code via getPreference.
type Preference struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
