package vehicle

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/fleetiot/core/model"
)

var (
	// ErrNotFound is returned when no vehicle matches the lookup.
	ErrNotFound = errors.New("vehicle not found")
	// ErrDuplicate is returned by Create when the id or serial is taken.
	ErrDuplicate = errors.New("vehicle already exists")
)

// Vehicle is the authoritative record of a shared vehicle. ID and Serial are
// immutable; the remaining fields are replaced wholesale on update.
type Vehicle struct {
	ID        string         `json:"id" bson:"_id"`
	Serial    string         `json:"serial" bson:"serial"`
	SiteID    string         `json:"site_id" bson:"site_id"`
	Category  model.Category `json:"category" bson:"category"`
	Status    model.Status   `json:"status" bson:"status"`
	Battery   int            `json:"battery" bson:"battery"`
	Light     model.Light    `json:"light" bson:"light"`
	RiderID   string         `json:"rider_id,omitempty" bson:"rider_id,omitempty"`
	UpdatedAt time.Time      `json:"updated_at" bson:"updated_at"`
}

// Apply copies the reported state of ev onto the record.
func (v *Vehicle) Apply(ev model.StatusEvent) {
	v.Status = ev.Status
	v.Battery = ev.Battery
	v.Light = model.IndicatorLight(ev.Status, ev.Battery, v.Category)
	v.UpdatedAt = ev.Timestamp
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = time.Now().UTC()
	}
}

// Repository is the persistence boundary used by ingestion.
type Repository interface {
	// FindBySerial returns ErrNotFound when no vehicle has the serial.
	FindBySerial(ctx context.Context, serial string) (*Vehicle, error)
	Update(ctx context.Context, v Vehicle) error
}

// Store is a Repository that can also seed and list records.
type Store interface {
	Repository
	Create(ctx context.Context, v Vehicle) error
	List(ctx context.Context) ([]Vehicle, error)
	Close() error
}
