package tracer

import (
	"context"
	"sync"
)

// RecordedSpan is a finished span captured by Recorder.
type RecordedSpan struct {
	Name       string
	Attributes map[string]any
	Events     []string
	Err        error
}

// Recorder keeps every ended span in memory, for tests.
type Recorder struct {
	mu    sync.Mutex
	spans []RecordedSpan
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span) {
	s := &recordedSpan{recorder: r, span: RecordedSpan{Name: name, Attributes: map[string]any{}}}
	s.SetAttributes(attrs...)
	return ctx, s
}

// Spans returns the finished spans in end order.
func (r *Recorder) Spans() []RecordedSpan {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedSpan, len(r.spans))
	copy(out, r.spans)
	return out
}

// Named returns the finished spans called name.
func (r *Recorder) Named(name string) []RecordedSpan {
	var out []RecordedSpan
	for _, s := range r.Spans() {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

type recordedSpan struct {
	recorder *Recorder
	mu       sync.Mutex
	span     RecordedSpan
}

func (s *recordedSpan) End(err error) {
	s.mu.Lock()
	s.span.Err = err
	done := s.span
	s.mu.Unlock()

	s.recorder.mu.Lock()
	s.recorder.spans = append(s.recorder.spans, done)
	s.recorder.mu.Unlock()
}

func (s *recordedSpan) SetAttributes(attrs ...Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range attrs {
		s.span.Attributes[a.Key] = a.Value
	}
}

func (s *recordedSpan) AddEvent(name string, _ ...Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.span.Events = append(s.span.Events, name)
}
