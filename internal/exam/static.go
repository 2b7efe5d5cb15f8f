package exam

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"proctoring-engine/internal/platform/errs"
)

// Exam is one entry of a StaticDirectory.
type Exam struct {
	ID       string    `yaml:"id"`
	Status   Status    `yaml:"status"`
	Settings Settings  `yaml:"settings"`
	Roster   []Student `yaml:"roster"`
}

// StaticDirectory is an in-memory Directory for development and tests.
type StaticDirectory struct {
	mu     sync.RWMutex
	exams  map[string]*Exam
	active []Student
}

// NewStaticDirectory returns an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{exams: make(map[string]*Exam)}
}

// Put adds or replaces an exam.
func (d *StaticDirectory) Put(e Exam) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := e
	cp.Roster = append([]Student(nil), e.Roster...)
	d.exams[e.ID] = &cp
}

// SetStatus changes an exam's status. Returns errs.ErrNotFound for unknown exams.
func (d *StaticDirectory) SetStatus(examID string, s Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.exams[examID]
	if !ok {
		return fmt.Errorf("exam %s: %w", examID, errs.ErrNotFound)
	}
	e.Status = s
	return nil
}

// SetActiveStudents replaces the active student list used for attendance initialization.
func (d *StaticDirectory) SetActiveStudents(students []Student) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = append([]Student(nil), students...)
}

func (d *StaticDirectory) get(examID string) (*Exam, error) {
	e, ok := d.exams[examID]
	if !ok {
		return nil, fmt.Errorf("exam %s: %w", examID, errs.ErrNotFound)
	}
	return e, nil
}

func (d *StaticDirectory) Status(ctx context.Context, examID string) (Status, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, err := d.get(examID)
	if err != nil {
		return "", err
	}
	return e.Status, nil
}

func (d *StaticDirectory) IsEnrolled(ctx context.Context, examID, studentID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, err := d.get(examID)
	if err != nil {
		return false, err
	}
	for _, s := range e.Roster {
		if s.IdentityRef == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (d *StaticDirectory) Settings(ctx context.Context, examID string) (Settings, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, err := d.get(examID)
	if err != nil {
		return Settings{}, err
	}
	return e.Settings, nil
}

func (d *StaticDirectory) Roster(ctx context.Context, examID string) ([]Student, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, err := d.get(examID)
	if err != nil {
		return nil, err
	}
	return append([]Student(nil), e.Roster...), nil
}

func (d *StaticDirectory) ActiveStudents(ctx context.Context) ([]Student, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Student(nil), d.active...), nil
}

// fixture is the YAML layout read by LoadStaticDirectory.
type fixture struct {
	Exams          []Exam    `yaml:"exams"`
	ActiveStudents []Student `yaml:"active_students"`
}

// LoadStaticDirectory reads a YAML fixture:
//
//	exams:
//	  - id: exam-1
//	    status: ongoing
//	    settings: {face_verification_required: true, tab_switch_limit: 3}
//	    roster: [{id: s1, name: Alice B}]
//	active_students: [{id: s1, name: Alice B}]
func LoadStaticDirectory(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("exam: read directory: %w", err)
	}
	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("exam: parse directory: %w", err)
	}
	d := NewStaticDirectory()
	for _, e := range f.Exams {
		if e.ID == "" {
			return nil, fmt.Errorf("exam: directory entry without id")
		}
		if e.Status == "" {
			e.Status = StatusScheduled
		}
		d.Put(e)
	}
	d.SetActiveStudents(f.ActiveStudents)
	return d, nil
}
