// Package store provides the vehicle.Store backends. A backend is selected
// by the store.type configuration key:
//
//	memory  in-process map, the default
//	sqlite  modernc.org/sqlite database file
//	bolt    bbolt key/value file
//	mongo   MongoDB collection
package store

import (
	"github.com/kilianp07/fleetiot/core/factory"
	"github.com/kilianp07/fleetiot/core/vehicle"
)

// TypeMemory is used when no store type is configured.
const TypeMemory = "memory"

var registry = factory.NewRegistry[vehicle.Store]()

func init() {
	_ = registry.Register(TypeMemory, func(map[string]any) (vehicle.Store, error) {
		return NewMemoryStore(), nil
	})
	_ = registry.Register("sqlite", newSQLiteFromConf)
	_ = registry.Register("bolt", newBoltFromConf)
	_ = registry.Register("mongo", newMongoFromConf)
}

// New opens the store described by cfg.
func New(cfg factory.ModuleConfig) (vehicle.Store, error) {
	if cfg.Type == "" {
		cfg.Type = TypeMemory
	}
	return registry.Create(cfg)
}
