package callsession

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"time"

	"carelink/backend/internal/models"

	"gorm.io/datatypes"
)

var (
	// ErrTerminal is returned for transitions on a finished session.
	ErrTerminal = errors.New("call session already finished")
	// ErrInvalidTransition is returned when the current state does not allow the transition.
	ErrInvalidTransition = errors.New("invalid call state transition")
)

// Transition describes the state change produced by one operation.
type Transition struct {
	From models.CallState
	To   models.CallState
}

// Changed reports whether the operation moved the session to another state.
func (t Transition) Changed() bool {
	return t.From != t.To
}

func participant(c *models.CallSession, role models.Role) (*models.ParticipantStatus, error) {
	p := c.Participant(role)
	if p == nil {
		return nil, fmt.Errorf("unknown participant role %q: %w", role, models.ErrValidationFailed)
	}
	return p, nil
}

// Join marks role as joined. The first join moves a scheduled session to
// waiting; the join that completes the pair moves it to active. The start time
// is stamped once.
func Join(c *models.CallSession, role models.Role, now time.Time) (Transition, error) {
	tr := Transition{From: c.State, To: c.State}
	if c.State.IsTerminal() {
		return tr, ErrTerminal
	}
	p, err := participant(c, role)
	if err != nil {
		return tr, err
	}

	p.Joined = true
	p.JoinedAt = ptr(now)
	switch role {
	case models.RolePatient:
		if c.PatientEnteredWaitingAt == nil {
			c.PatientEnteredWaitingAt = ptr(now)
		}
	case models.RoleDoctor:
		if c.DoctorEnteredWaitingAt == nil {
			c.DoctorEnteredWaitingAt = ptr(now)
		}
	}

	if c.State != models.CallScheduled && c.State != models.CallWaiting {
		return tr, nil
	}

	if c.Patient.Joined && c.Doctor.Joined {
		c.State = models.CallActive
		if c.ActualStartTime == nil {
			c.ActualStartTime = ptr(now)
		}
		if c.WaitingTime == nil {
			if first := firstEnteredWaiting(c); first != nil {
				c.WaitingTime = ptr(wholeMinutes(now.Sub(*first)))
			}
		}
	} else if c.State == models.CallScheduled {
		c.State = models.CallWaiting
	}
	tr.To = c.State
	return tr, nil
}

// Leave records the departure of role. Only the doctor leaving an active call
// ends it; a patient drop keeps the session running.
func Leave(c *models.CallSession, role models.Role, now time.Time) (Transition, error) {
	tr := Transition{From: c.State, To: c.State}
	p, err := participant(c, role)
	if err != nil {
		return tr, err
	}

	p.LeftAt = ptr(now)
	if role == models.RoleDoctor && c.State == models.CallActive {
		end(c, now)
	}
	tr.To = c.State
	return tr, nil
}

// MergeQuality merges data into the quality record of role. It never fails
// and never changes the state.
func MergeQuality(c *models.CallSession, role models.Role, data map[string]any) {
	if c.Quality == nil {
		c.Quality = datatypes.JSONMap{}
	}
	key := string(role)
	current, _ := c.Quality[key].(map[string]any)
	merged := make(map[string]any, len(current)+len(data))
	maps.Copy(merged, current)
	maps.Copy(merged, data)
	c.Quality[key] = merged

	if p := c.Participant(role); p != nil {
		if q, ok := data["connectionQuality"].(string); ok && models.ValidQualityClass(q) {
			p.ConnectionQuality = q
		}
	}
}

// StartScreenShare records that role shared its screen during the call.
func StartScreenShare(c *models.CallSession, role models.Role) error {
	if c.State.IsTerminal() {
		return ErrTerminal
	}
	if _, err := participant(c, role); err != nil {
		return err
	}
	c.ScreenShareUsed = true
	c.ScreenShareBy = role
	return nil
}

// Hold pauses an active call.
func Hold(c *models.CallSession) (Transition, error) {
	return move(c, models.CallOnHold, models.CallActive)
}

// Resume returns a held call to active.
func Resume(c *models.CallSession) (Transition, error) {
	return move(c, models.CallActive, models.CallOnHold)
}

// Cancel finishes a session that did not complete normally.
func Cancel(c *models.CallSession, by, reason string, now time.Time) (Transition, error) {
	tr, err := finish(c, models.CallCancelled)
	if err != nil {
		return tr, err
	}
	c.CancelledBy = by
	c.CancellationReason = reason
	c.CancelledAt = ptr(now)
	return tr, nil
}

// Fail finishes a session after a technical failure.
func Fail(c *models.CallSession, now time.Time) (Transition, error) {
	started := c.ActualStartTime != nil
	tr, err := finish(c, models.CallFailed)
	if err != nil {
		return tr, err
	}
	if started {
		c.ActualEndTime = ptr(now)
		c.ActualDuration = ptr(wholeMinutes(now.Sub(*c.ActualStartTime)))
	}
	return tr, nil
}

// MarkNoShow finishes a session a party never attended.
func MarkNoShow(c *models.CallSession) (Transition, error) {
	return finish(c, models.CallNoShow)
}

func move(c *models.CallSession, to models.CallState, from ...models.CallState) (Transition, error) {
	tr := Transition{From: c.State, To: c.State}
	if c.State.IsTerminal() {
		return tr, ErrTerminal
	}
	for _, s := range from {
		if c.State == s {
			c.State = to
			tr.To = to
			return tr, nil
		}
	}
	return tr, fmt.Errorf("%s -> %s: %w", c.State, to, ErrInvalidTransition)
}

func finish(c *models.CallSession, to models.CallState) (Transition, error) {
	tr := Transition{From: c.State, To: c.State}
	if c.State.IsTerminal() {
		return tr, ErrTerminal
	}
	c.State = to
	tr.To = to
	return tr, nil
}

func end(c *models.CallSession, now time.Time) {
	c.State = models.CallEnded
	c.ActualEndTime = ptr(now)
	if c.ActualStartTime != nil {
		c.ActualDuration = ptr(wholeMinutes(now.Sub(*c.ActualStartTime)))
	}
}

func firstEnteredWaiting(c *models.CallSession) *time.Time {
	p, d := c.PatientEnteredWaitingAt, c.DoctorEnteredWaitingAt
	switch {
	case p == nil:
		return d
	case d == nil:
		return p
	case d.Before(*p):
		return d
	}
	return p
}

// wholeMinutes rounds half away from zero.
func wholeMinutes(d time.Duration) int {
	return int(math.Round(d.Minutes()))
}

func ptr[T any](v T) *T {
	return &v
}
