// Package infra holds the adapters behind the core interfaces: the MQTT
// transport and codecs, vehicle stores, metrics sinks, the websocket push
// hub, logging and error monitoring.
package infra
