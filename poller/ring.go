package poller

import "pgdash/model"

// Ring is a fixed-capacity metric history. Appending beyond capacity evicts
// the oldest sample; Samples always returns oldest-first insertion order.
type Ring struct {
	buf   []model.MetricSample
	head  int
	count int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]model.MetricSample, capacity)}
}

func (r *Ring) Append(s model.MetricSample) {
	tail := (r.head + r.count) % len(r.buf)
	r.buf[tail] = s
	if r.count < len(r.buf) {
		r.count++
	} else {
		r.head = (r.head + 1) % len(r.buf)
	}
}

func (r *Ring) Len() int {
	return r.count
}

func (r *Ring) Samples() []model.MetricSample {
	out := make([]model.MetricSample, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
