package mqtt

import (
	"fmt"
	"strings"
)

// Topic suffixes below sites/{site}/devices/{device}/.
const (
	SuffixStatus          = "status"
	SuffixCommandResponse = "command-response"
	SuffixCommand         = "command"
)

// DeviceTopic builds sites/{site}/devices/{device}/{suffix}.
func DeviceTopic(site, device, suffix string) string {
	return fmt.Sprintf("sites/%s/devices/%s/%s", site, device, suffix)
}

// StatusTopic is where a device reports its state.
func StatusTopic(site, device string) string {
	return DeviceTopic(site, device, SuffixStatus)
}

// CommandResponseTopic is where a device answers commands.
func CommandResponseTopic(site, device string) string {
	return DeviceTopic(site, device, SuffixCommandResponse)
}

// CommandTopic is where a device receives commands.
func CommandTopic(site, device string) string {
	return DeviceTopic(site, device, SuffixCommand)
}

// SiteWildcard matches every device of site for suffix. An empty site
// matches every site.
func SiteWildcard(site, suffix string) string {
	if site == "" {
		site = "+"
	}
	return DeviceTopic(site, "+", suffix)
}

// ParseDeviceTopic splits a concrete device topic into its parts.
func ParseDeviceTopic(topic string) (site, device, suffix string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != "sites" || parts[2] != "devices" {
		return "", "", "", fmt.Errorf("not a device topic: %q", topic)
	}
	if parts[1] == "" || parts[3] == "" || parts[4] == "" {
		return "", "", "", fmt.Errorf("empty segment in topic %q", topic)
	}
	return parts[1], parts[3], parts[4], nil
}
