package health

import (
	"errors"
	"testing"
)

func TestListenersAddRemove(t *testing.T) {
	var ls Listeners
	var failures, deaths int
	l := &ListenerFuncs{
		Failure:       func(Report) { failures++ },
		Unrecoverable: func(Report) { deaths++ },
	}
	ls.Add(l)
	ls.NotifyFailure(UnhealthyReport("appender", errors.New("disk")))
	ls.NotifyUnrecoverable(DeadReport("stream", errors.New("disk")))
	ls.Remove(l)
	ls.NotifyFailure(UnhealthyReport("appender", nil))
	if failures != 1 || deaths != 1 {
		t.Fatalf("failures=%d deaths=%d", failures, deaths)
	}
}

func TestReportString(t *testing.T) {
	if got := HealthyReport("x").String(); got != "x: healthy" {
		t.Fatalf("got %q", got)
	}
	if got := DeadReport("x", errors.New("boom")).String(); got != "x: dead (boom)" {
		t.Fatalf("got %q", got)
	}
}
