// Package face defines the face-analysis capability the engine consumes. The computer-vision model
// lives outside the engine; Deterministic is a stand-in for development and tests.
package face

import (
	"context"
	"sync"
)

// Descriptor is an opaque face embedding.
type Descriptor []float64

// Detection is what Detect reports for one image.
type Detection struct {
	FaceCount  int
	Descriptor Descriptor // descriptor of the single face; nil unless FaceCount == 1
}

func (d Detection) HasFace() bool       { return d.FaceCount > 0 }
func (d Detection) MultipleFaces() bool { return d.FaceCount > 1 }

// Comparison is the outcome of comparing a live face against a reference.
type Comparison struct {
	Confidence float64
	Match      bool
}

// Capability detects and compares faces. Errors mean the capability is unavailable.
type Capability interface {
	Detect(ctx context.Context, image []byte) (Detection, error)
	Compare(ctx context.Context, reference, live Descriptor) (Comparison, error)
}

// ReferenceStore returns a student's enrolled reference descriptor. ok is false when none is enrolled.
type ReferenceStore interface {
	Reference(ctx context.Context, studentID string) (d Descriptor, ok bool, err error)
}

// MemoryReferences is an in-memory ReferenceStore.
type MemoryReferences struct {
	mu   sync.RWMutex
	refs map[string]Descriptor
}

func NewMemoryReferences() *MemoryReferences {
	return &MemoryReferences{refs: make(map[string]Descriptor)}
}

// Enroll stores d as the student's reference, replacing any previous one.
func (m *MemoryReferences) Enroll(studentID string, d Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[studentID] = append(Descriptor(nil), d...)
}

func (m *MemoryReferences) Reference(ctx context.Context, studentID string) (Descriptor, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.refs[studentID]
	if !ok {
		return nil, false, nil
	}
	return append(Descriptor(nil), d...), true, nil
}
