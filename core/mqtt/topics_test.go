package mqtt

import "testing"

func TestTopics(t *testing.T) {
	if got := StatusTopic("p1", "bike-001"); got != "sites/p1/devices/bike-001/status" {
		t.Fatalf("unexpected status topic %s", got)
	}
	if got := SiteWildcard("", SuffixCommandResponse); got != "sites/+/devices/+/command-response" {
		t.Fatalf("unexpected wildcard %s", got)
	}
	if got := SiteWildcard("p1", SuffixCommand); got != "sites/p1/devices/+/command" {
		t.Fatalf("unexpected site wildcard %s", got)
	}
}

func TestParseDeviceTopic(t *testing.T) {
	site, dev, suffix, err := ParseDeviceTopic(CommandResponseTopic("p1", "sc-9"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if site != "p1" || dev != "sc-9" || suffix != SuffixCommandResponse {
		t.Fatalf("unexpected parts %s %s %s", site, dev, suffix)
	}
	for _, bad := range []string{"v2g/ack/x", "sites/p1/devices//status", "sites/p1/devices/x/status/extra"} {
		if _, _, _, err := ParseDeviceTopic(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
