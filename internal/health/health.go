// Package health models component health and the listeners notified when a
// component fails.
package health

import (
	"fmt"
	"sync"
)

// Status is the health of a component.
type Status int

const (
	Healthy Status = iota
	Unhealthy
	Dead
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	case Dead:
		return "dead"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Report describes the health of one component.
type Report struct {
	Component string
	Status    Status
	Issue     error
}

// HealthyReport returns a healthy report for component.
func HealthyReport(component string) Report {
	return Report{Component: component, Status: Healthy}
}

// UnhealthyReport returns an unhealthy report carrying issue.
func UnhealthyReport(component string, issue error) Report {
	return Report{Component: component, Status: Unhealthy, Issue: issue}
}

// DeadReport returns a dead report carrying issue.
func DeadReport(component string, issue error) Report {
	return Report{Component: component, Status: Dead, Issue: issue}
}

func (r Report) String() string {
	if r.Issue == nil {
		return fmt.Sprintf("%s: %s", r.Component, r.Status)
	}
	return fmt.Sprintf("%s: %s (%v)", r.Component, r.Status, r.Issue)
}

// FailureListener is notified when a component degrades or dies.
type FailureListener interface {
	OnFailure(Report)
	OnUnrecoverableFailure(Report)
}

// Listeners is a concurrency-safe set of failure listeners.
type Listeners struct {
	mu        sync.Mutex
	listeners []FailureListener
}

// Add registers l.
func (ls *Listeners) Add(l FailureListener) {
	ls.mu.Lock()
	ls.listeners = append(ls.listeners, l)
	ls.mu.Unlock()
}

// Remove unregisters l.
func (ls *Listeners) Remove(l FailureListener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, x := range ls.listeners {
		if x == l {
			ls.listeners = append(ls.listeners[:i], ls.listeners[i+1:]...)
			return
		}
	}
}

func (ls *Listeners) snapshot() []FailureListener {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return append([]FailureListener(nil), ls.listeners...)
}

// NotifyFailure calls OnFailure on every listener.
func (ls *Listeners) NotifyFailure(r Report) {
	for _, l := range ls.snapshot() {
		l.OnFailure(r)
	}
}

// NotifyUnrecoverable calls OnUnrecoverableFailure on every listener.
func (ls *Listeners) NotifyUnrecoverable(r Report) {
	for _, l := range ls.snapshot() {
		l.OnUnrecoverableFailure(r)
	}
}

// ListenerFuncs adapts plain functions to FailureListener. Use a pointer so
// the listener can be removed again.
type ListenerFuncs struct {
	Failure       func(Report)
	Unrecoverable func(Report)
}

func (f *ListenerFuncs) OnFailure(r Report) {
	if f.Failure != nil {
		f.Failure(r)
	}
}

func (f *ListenerFuncs) OnUnrecoverableFailure(r Report) {
	if f.Unrecoverable != nil {
		f.Unrecoverable(r)
	}
}
