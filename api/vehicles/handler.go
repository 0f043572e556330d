package vehicles

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kilianp07/fleetiot/core/vehicle"
)

// Lister returns every persisted vehicle.
type Lister interface {
	List(ctx context.Context) ([]vehicle.Vehicle, error)
}

// NewListHandler returns an HTTP handler exposing the vehicle records via
// GET /api/vehicles. The site, status and category query parameters filter
// the result.
func NewListHandler(store Lister) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		site, status, category := q.Get("site"), q.Get("status"), q.Get("category")
		all, err := store.List(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		out := make([]vehicle.Vehicle, 0, len(all))
		for _, v := range all {
			if site != "" && v.SiteID != site {
				continue
			}
			if status != "" && string(v.Status) != status {
				continue
			}
			if category != "" && string(v.Category) != category {
				continue
			}
			out = append(out, v)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
