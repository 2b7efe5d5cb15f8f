package domain

import (
	"sort"
	"time"
)

// Mark is a student's attendance state for one day. Records only ever move Absent -> Present.
type Mark string

const (
	MarkPresent Mark = "Present"
	MarkAbsent  Mark = "Absent"
)

// Record is one student's attendance for a session key and date.
// StudentName and PhotoRef are copied from the student directory when the record is created.
type Record struct {
	ID          string
	StudentID   string
	StudentName string
	PhotoRef    string
	SessionKey  string
	Position    int
	Date        time.Time
	Mark        Mark
	MarkedAt    *time.Time
	Confidence  float64
	CreatedAt   time.Time
}

// Recognition is one Absent -> Present transition made by a reconciliation run.
type Recognition struct {
	StudentID  string    `json:"student_id"`
	Name       string    `json:"name"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	MarkedAt   time.Time `json:"marked_at"`
}

// Snapshot is the present/absent split of a session at a point in time.
type Snapshot struct {
	SessionKey   string
	Date         time.Time
	PresentCount int
	AbsentCount  int
	Present      []string
	Absent       []string
}

// Total is the number of students in the snapshot.
func (s Snapshot) Total() int {
	return s.PresentCount + s.AbsentCount
}

// Report is the stored outcome of one reconciliation run.
type Report struct {
	ID            string
	SessionKey    string
	Date          time.Time
	TotalStudents int
	PresentCount  int
	AbsentCount   int
	Present       []string
	Absent        []string
	Recognitions  []Recognition
	CreatedAt     time.Time
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Summarize splits records into sorted present and absent name lists.
func Summarize(sessionKey string, date time.Time, records []*Record) Snapshot {
	snap := Snapshot{SessionKey: sessionKey, Date: DateOf(date), Present: []string{}, Absent: []string{}}
	for _, r := range records {
		if r.Mark == MarkPresent {
			snap.Present = append(snap.Present, r.StudentName)
		} else {
			snap.Absent = append(snap.Absent, r.StudentName)
		}
	}
	sort.Strings(snap.Present)
	sort.Strings(snap.Absent)
	snap.PresentCount = len(snap.Present)
	snap.AbsentCount = len(snap.Absent)
	return snap
}
