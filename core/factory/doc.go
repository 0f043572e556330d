// Package factory provides a small generic registry used to instantiate modules
// from configuration. A module is selected by a type string and configured by a
// map of raw settings that factories decode into typed structs.
//
// The vehicle store and the metrics sinks are both built this way:
//
//	store:
//	  type: sqlite
//	  conf:
//	    path: fleet.db
package factory
