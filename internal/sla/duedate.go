package sla

import (
	"time"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

// Target names one of the three deadlines a rule can set.
type Target string

const (
	TargetResponse   Target = "response"
	TargetResolution Target = "resolution"
	TargetEscalation Target = "escalation"
)

// BusinessClock adds open business time to an instant.
type BusinessClock interface {
	AddBusinessDuration(start time.Time, d time.Duration) (time.Time, error)
}

// DueDateResult holds the computed deadlines. A nil due means the rule sets no
// target for it, or the target could not be computed (see Errors).
type DueDateResult struct {
	Response   *time.Time
	Resolution *time.Time
	Escalation *time.Time
	Errors     map[Target]error
}

// Due returns the deadline for a tracked metric.
func (r DueDateResult) Due(m domain.Metric) *time.Time {
	if m == domain.MetricResponse {
		return r.Response
	}
	return r.Resolution
}

// Err returns the error that prevented a target from being computed.
func (r DueDateResult) Err(t Target) error {
	return r.Errors[t]
}

// ComputeDueDates derives each deadline independently from the creation instant.
// Business-hours rules go through clock; other rules use plain wall-clock addition.
// A nil rule yields an empty result.
func ComputeDueDates(createdAt time.Time, rule *domain.SLARule, clock BusinessClock) DueDateResult {
	var result DueDateResult
	if rule == nil {
		return result
	}

	compute := func(target Target, hours *int) *time.Time {
		if hours == nil {
			return nil
		}
		d := time.Duration(*hours) * time.Hour
		if !rule.BusinessHoursOnly {
			due := createdAt.Add(d)
			return &due
		}
		if clock == nil {
			result.addErr(target, apperrors.NewConfigurationError("no business hours calendar for entity", map[string]any{
				"rule_id": rule.ID,
			}))
			return nil
		}
		due, err := clock.AddBusinessDuration(createdAt, d)
		if err != nil {
			result.addErr(target, err)
			return nil
		}
		return &due
	}

	result.Response = compute(TargetResponse, rule.ResponseHours)
	result.Resolution = compute(TargetResolution, rule.ResolutionHours)
	result.Escalation = compute(TargetEscalation, rule.EscalationHours)
	return result
}

func (r *DueDateResult) addErr(t Target, err error) {
	if r.Errors == nil {
		r.Errors = make(map[Target]error)
	}
	r.Errors[t] = err
}

// TargetMinutes returns the rule target for a metric in minutes, or false when unset.
func TargetMinutes(rule *domain.SLARule, m domain.Metric) (int64, bool) {
	if rule == nil {
		return 0, false
	}
	hours := rule.ResponseHours
	if m == domain.MetricResolution {
		hours = rule.ResolutionHours
	}
	if hours == nil {
		return 0, false
	}
	return int64(*hours) * 60, true
}
