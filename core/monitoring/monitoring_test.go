package monitoring

import (
	"errors"
	"testing"
	"time"
)

type recordMonitor struct {
	errs []error
	tags []map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}
func (r *recordMonitor) Flush(time.Duration) {}

func TestCapturePanic(t *testing.T) {
	rec := &recordMonitor{}
	Init(rec)
	defer Init(NopMonitor{})

	err := CapturePanic("boom", map[string]string{"module": "mqtt"})
	if err == nil || err.Error() != "panic: boom" {
		t.Fatalf("unexpected error %v", err)
	}
	sentinel := errors.New("typed")
	if got := CapturePanic(sentinel, nil); !errors.Is(got, sentinel) {
		t.Fatalf("expected sentinel got %v", got)
	}
	if len(rec.errs) != 2 || rec.tags[0]["module"] != "mqtt" {
		t.Fatalf("captures not recorded: %#v", rec)
	}
}

func TestInitIgnoresNil(t *testing.T) {
	Init(nil)
	CaptureException(errors.New("x"), nil)
	Flush(time.Millisecond)
}
