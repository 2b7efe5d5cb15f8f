// Package verification turns live frames, recognizer labels and client reports into ledger entries. It
// stores evidence, asks the face capability what the frame shows, reconciles recognizer labels against
// the exam roster and records the outcome on the session.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"proctoring-engine/internal/evidence"
	"proctoring-engine/internal/exam"
	"proctoring-engine/internal/face"
	"proctoring-engine/internal/platform/authz"
	"proctoring-engine/internal/platform/errs"
	"proctoring-engine/internal/reconcile"
	"proctoring-engine/internal/session/domain"
)

// TabSwitchLimitReason is the termination reason used when a session exceeds its exam's tab switch limit.
const TabSwitchLimitReason = "tab switch limit exceeded"

const frameContentType = "image/jpeg"

// Sessions is the part of the session service this package drives.
type Sessions interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	AppendVerification(ctx context.Context, sessionID string, rec domain.VerificationRecord) (domain.VerificationRecord, error)
	AppendViolation(ctx context.Context, caller authz.Caller, sessionID string, v domain.Violation) (domain.Violation, error)
	SetStatus(ctx context.Context, caller authz.Caller, sessionID string, status domain.Status, reason string) (*domain.Session, error)
}

// FaceResult is the outcome of VerifyFace and VerifyRecognition. Violation is set when the check produced one.
type FaceResult struct {
	Verification domain.VerificationRecord
	Violation    *domain.Violation
}

// ViolationResult is the outcome of ReportViolation.
type ViolationResult struct {
	Violation  domain.Violation
	Terminated bool
}

// Service implements face verification and violation reporting.
type Service struct {
	sessions Sessions
	exams    exam.Directory
	evidence evidence.Store
	faces    face.Capability
	refs     face.ReferenceStore
	matcher  *reconcile.Engine
}

// NewService returns a verification service. matcher reconciles recognizer labels in VerifyRecognition;
// nil uses a strict engine with no confidence threshold.
func NewService(sessions Sessions, exams exam.Directory, store evidence.Store, faces face.Capability, refs face.ReferenceStore, matcher *reconcile.Engine) *Service {
	if matcher == nil {
		matcher, _ = reconcile.New(reconcile.Options{})
	}
	return &Service{sessions: sessions, exams: exams, evidence: store, faces: faces, refs: refs, matcher: matcher}
}

// VerifyFace checks frame against the student's reference face and records the result. A frame with
// several faces or a face that does not match also records a violation. If the evidence store or the
// face capability fails, nothing is recorded and ErrUpstreamUnavailable is returned.
func (s *Service) VerifyFace(ctx context.Context, caller authz.Caller, sessionID string, frame []byte, idempotencyKey string) (FaceResult, error) {
	const op = "verification.VerifyFace"
	if len(frame) == 0 {
		return FaceResult{}, errs.E(op, sessionID, errs.Validation("frame is empty"))
	}
	sess, err := s.liveSession(ctx, op, caller, sessionID)
	if err != nil {
		return FaceResult{}, err
	}

	ref, err := s.evidence.Put(ctx, frame, frameContentType)
	if err != nil {
		return FaceResult{}, errs.E(op, sessionID, errs.Upstream("evidence store", err))
	}
	result, confidence, err := s.assess(ctx, sess.StudentID, frame)
	if err != nil {
		return FaceResult{}, errs.E(op, sessionID, err)
	}

	return s.record(ctx, sessionID, domain.VerificationRecord{
		Result:         result,
		Confidence:     confidence,
		EvidenceRef:    ref,
		IdempotencyKey: idempotencyKey,
	}, "")
}

// VerifyRecognition reconciles a label reported by an external recognizer against the exam roster. The
// session is verified only when the first matching roster entry is the session's own student; any other
// verdict, including an unrecognized face, records a failed verification and an unauthorized_person
// violation.
func (s *Service) VerifyRecognition(ctx context.Context, caller authz.Caller, sessionID string, d reconcile.Detection, idempotencyKey string) (FaceResult, error) {
	const op = "verification.VerifyRecognition"
	if c := d.Confidence; c != nil && (math.IsNaN(*c) || *c < 0 || *c > 1) {
		return FaceResult{}, errs.E(op, sessionID, errs.Validation("confidence must be within [0,1]"))
	}
	sess, err := s.liveSession(ctx, op, caller, sessionID)
	if err != nil {
		return FaceResult{}, err
	}
	students, err := s.exams.Roster(ctx, sess.ExamID)
	if err != nil {
		return FaceResult{}, errs.E(op, sessionID, errs.Upstream("exam directory", err))
	}
	entries := make([]reconcile.Entry, len(students))
	for i, st := range students {
		entries[i] = reconcile.Entry{IdentityRef: st.IdentityRef, FullName: st.FullName}
	}
	verdict := s.matcher.Match(reconcile.NewRoster(entries), d)

	rec := domain.VerificationRecord{Result: domain.ResultFailed, IdempotencyKey: idempotencyKey}
	if d.Confidence != nil {
		rec.Confidence = *d.Confidence
	}
	var detail string
	switch {
	case verdict.Outcome == reconcile.Matched && verdict.IdentityRef == sess.StudentID:
		rec.Result = domain.ResultVerified
	case verdict.Outcome == reconcile.Matched:
		detail = fmt.Sprintf("recognized %q as %s, not the session's student", d.Label, verdict.IdentityRef)
	default:
		detail = fmt.Sprintf("recognized %q: %s", d.Label, verdict.Reason)
	}
	return s.record(ctx, sessionID, rec, detail)
}

// liveSession loads the session, checks the caller may act on it and that it is live with face
// verification enabled for its exam.
func (s *Service) liveSession(ctx context.Context, op string, caller authz.Caller, sessionID string) (*domain.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := authz.RequireSelfOrSupervisor(caller, sess.StudentID); err != nil {
		return nil, errs.E(op, sessionID, err)
	}
	if !sess.Status.IsLive() {
		return nil, errs.E(op, sessionID, fmt.Errorf("%w: session is %s", errs.ErrInvalidState, sess.Status))
	}
	settings, err := s.exams.Settings(ctx, sess.ExamID)
	if err != nil {
		return nil, errs.E(op, sessionID, errs.Upstream("exam directory", err))
	}
	if !settings.FaceVerificationRequired {
		return nil, errs.E(op, sessionID, fmt.Errorf("%w: exam %s does not use face verification", errs.ErrInvalidState, sess.ExamID))
	}
	return sess, nil
}

// record appends rec and, for results that imply one, the correlated violation. detail overrides the
// violation description when set.
func (s *Service) record(ctx context.Context, sessionID string, rec domain.VerificationRecord, detail string) (FaceResult, error) {
	stored, err := s.sessions.AppendVerification(ctx, sessionID, rec)
	if err != nil {
		return FaceResult{}, err
	}
	out := FaceResult{Verification: stored}

	v, ok := correlatedViolation(stored)
	if !ok {
		return out, nil
	}
	if detail != "" {
		v.Description = detail
	}
	if rec.IdempotencyKey != "" {
		v.IdempotencyKey = rec.IdempotencyKey + ":violation"
	}
	violation, err := s.sessions.AppendViolation(ctx, authz.System, sessionID, v)
	if err != nil {
		return out, err
	}
	out.Violation = &violation
	return out, nil
}

// assess runs detection and, for a single face, comparison against the enrolled reference.
func (s *Service) assess(ctx context.Context, studentID string, frame []byte) (domain.VerificationResult, float64, error) {
	det, err := s.faces.Detect(ctx, frame)
	if err != nil {
		return "", 0, errs.Upstream("face detection", err)
	}
	switch {
	case !det.HasFace():
		return domain.ResultNoFace, 0, nil
	case det.MultipleFaces():
		return domain.ResultMultipleFaces, 0, nil
	}
	reference, ok, err := s.refs.Reference(ctx, studentID)
	if err != nil {
		return "", 0, errs.Upstream("reference store", err)
	}
	if !ok {
		return domain.ResultNoReference, 0, nil
	}
	cmp, err := s.faces.Compare(ctx, reference, det.Descriptor)
	if err != nil {
		return "", 0, errs.Upstream("face comparison", err)
	}
	if cmp.Match {
		return domain.ResultVerified, cmp.Confidence, nil
	}
	return domain.ResultFailed, cmp.Confidence, nil
}

func correlatedViolation(rec domain.VerificationRecord) (domain.Violation, bool) {
	v := domain.Violation{EvidenceRef: rec.EvidenceRef, Timestamp: rec.Timestamp}
	switch rec.Result {
	case domain.ResultMultipleFaces:
		v.Type = domain.ViolationMultipleFaces
		v.Severity = domain.SeverityHigh
		v.Description = "more than one face in frame"
	case domain.ResultFailed:
		v.Type = domain.ViolationUnauthorizedPerson
		v.Severity = domain.SeverityCritical
		v.Description = fmt.Sprintf("face does not match reference (confidence %.2f)", rec.Confidence)
	default:
		return domain.Violation{}, false
	}
	return v, true
}

// ReportViolation stores optional evidence and appends v. When the exam limits tab switches and the
// session now exceeds the limit, the session is terminated.
func (s *Service) ReportViolation(ctx context.Context, caller authz.Caller, sessionID string, v domain.Violation, proof []byte, contentType string) (ViolationResult, error) {
	const op = "verification.ReportViolation"
	if err := v.Validate(); err != nil {
		return ViolationResult{}, errs.E(op, sessionID, err)
	}
	if len(proof) > 0 {
		ref, err := s.evidence.Put(ctx, proof, contentType)
		if err != nil {
			return ViolationResult{}, errs.E(op, sessionID, errs.Upstream("evidence store", err))
		}
		v.EvidenceRef = ref
	}
	stored, err := s.sessions.AppendViolation(ctx, caller, sessionID, v)
	if err != nil {
		return ViolationResult{}, err
	}
	out := ViolationResult{Violation: stored}
	if stored.Type != domain.ViolationTabSwitch {
		return out, nil
	}
	terminated, err := s.enforceTabSwitchLimit(ctx, sessionID)
	if err != nil {
		log.Printf("verification: tab switch limit for session %s: %v", sessionID, err)
	}
	out.Terminated = terminated
	return out, nil
}

func (s *Service) enforceTabSwitchLimit(ctx context.Context, sessionID string) (bool, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	settings, err := s.exams.Settings(ctx, sess.ExamID)
	if err != nil {
		return false, err
	}
	if settings.TabSwitchLimit <= 0 || sess.CountViolations(domain.ViolationTabSwitch) <= settings.TabSwitchLimit {
		return false, nil
	}
	if !sess.Status.IsLive() {
		return false, nil
	}
	_, err = s.sessions.SetStatus(ctx, authz.System, sessionID, domain.StatusTerminated, TabSwitchLimitReason)
	if errors.Is(err, errs.ErrInvalidState) {
		// Ended concurrently.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
