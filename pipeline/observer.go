package pipeline

import (
	"reflect"
	"time"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Observer receives pipeline measurements. internal/metrics.Collector
// satisfies it.
type Observer interface {
	RecordGeneration(backend, outcome string, d time.Duration)
	RecordConversion(kernel, outcome string, d time.Duration)
	RecordDedup(origin string)
	RecordPublish(sizeBytes, triangles int)
}

type nopObserver struct{}

func (nopObserver) RecordGeneration(string, string, time.Duration) {}
func (nopObserver) RecordConversion(string, string, time.Duration) {}
func (nopObserver) RecordDedup(string)                             {}
func (nopObserver) RecordPublish(int, int)                         {}

// MultiObserver fans measurements out to every non-nil observer.
func MultiObserver(obs ...Observer) Observer {
	var live multiObserver
	for _, o := range obs {
		if o != nil && !isNil(o) {
			live = append(live, o)
		}
	}
	switch len(live) {
	case 0:
		return nopObserver{}
	case 1:
		return live[0]
	}
	return live
}

type multiObserver []Observer

func (m multiObserver) RecordGeneration(backend, outcome string, d time.Duration) {
	for _, o := range m {
		o.RecordGeneration(backend, outcome, d)
	}
}

func (m multiObserver) RecordConversion(kernel, outcome string, d time.Duration) {
	for _, o := range m {
		o.RecordConversion(kernel, outcome, d)
	}
}

func (m multiObserver) RecordDedup(origin string) {
	for _, o := range m {
		o.RecordDedup(origin)
	}
}

func (m multiObserver) RecordPublish(sizeBytes, triangles int) {
	for _, o := range m {
		o.RecordPublish(sizeBytes, triangles)
	}
}

// isNil catches typed nil pointers wrapped in the interface.
func isNil(o Observer) bool {
	v := reflect.ValueOf(o)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
