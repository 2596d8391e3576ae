package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"conservatory/pkg/domain"
)

// Kind classifies a group session conflict.
type Kind string

// Conflict kinds, in tie-break priority order.
const (
	KindNone      Kind = ""
	KindLocation  Kind = "location"
	KindConductor Kind = "conductor"
	KindMembers   Kind = "members"
	KindTime      Kind = "time"
)

// Severity grades a group session conflict.
type Severity string

// Conflict severities.
const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Session is a dated meeting of a group.
type Session struct {
	GroupID     string
	GroupName   string
	Date        time.Time
	StartTime   string
	EndTime     string
	Location    string
	ConductorID string
	MemberIDs   domain.IDSet
}

// SessionFromRehearsal joins a rehearsal with its group's roster.
func SessionFromRehearsal(r domain.Rehearsal, g domain.Group) Session {
	location := r.Location
	if location == "" {
		location = g.Location
	}
	return Session{
		GroupID:     g.ID,
		GroupName:   g.Name,
		Date:        r.Date,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		Location:    location,
		ConductorID: g.ConductorID,
		MemberIDs:   g.MemberIDs,
	}
}

// GroupConflict is the single classification reported for a session pair.
type GroupConflict struct {
	HasConflict   bool
	Kind          Kind
	Severity      Severity
	Message       string
	SharedMembers []string
}

// CheckGroupConflict classifies the overlap between two sessions. Only
// sessions on the same calendar date with overlapping times conflict, and a
// group never conflicts with itself. The first matching rung wins:
// location, then conductor, then shared members, then plain time overlap.
func CheckGroupConflict(a, b Session) GroupConflict {
	if a.GroupID != "" && a.GroupID == b.GroupID {
		return GroupConflict{}
	}
	if !sameDate(a.Date, b.Date) {
		return GroupConflict{}
	}
	ia, ok := parseInterval(a.StartTime, a.EndTime)
	if !ok {
		return GroupConflict{}
	}
	ib, ok := parseInterval(b.StartTime, b.EndTime)
	if !ok || !ia.overlaps(ib) {
		return GroupConflict{}
	}

	window := fmt.Sprintf("%s-%s", a.StartTime, a.EndTime)
	switch {
	case sameLocation(a.Location, b.Location):
		return GroupConflict{
			HasConflict: true,
			Kind:        KindLocation,
			Severity:    SeverityCritical,
			Message:     fmt.Sprintf("%s and %s both use %s during %s", label(a), label(b), a.Location, window),
		}
	case a.ConductorID != "" && a.ConductorID == b.ConductorID:
		return GroupConflict{
			HasConflict: true,
			Kind:        KindConductor,
			Severity:    SeverityCritical,
			Message:     fmt.Sprintf("conductor %s is booked for %s and %s during %s", a.ConductorID, label(a), label(b), window),
		}
	}
	if shared := a.MemberIDs.Intersection(b.MemberIDs); len(shared) > 0 {
		return GroupConflict{
			HasConflict:   true,
			Kind:          KindMembers,
			Severity:      SeverityWarning,
			Message:       fmt.Sprintf("%d members of %s also rehearse with %s during %s", len(shared), label(a), label(b), window),
			SharedMembers: shared,
		}
	}
	return GroupConflict{
		HasConflict: true,
		Kind:        KindTime,
		Severity:    SeverityWarning,
		Message:     fmt.Sprintf("%s overlaps %s during %s", label(a), label(b), window),
	}
}

// PairConflict names the two groups behind a conflict.
type PairConflict struct {
	First    string
	Second   string
	Conflict GroupConflict
}

// ScanSessions checks every pair of sessions and returns the conflicting
// ones, critical first.
func ScanSessions(sessions []Session) []PairConflict {
	var out []PairConflict
	for i := 0; i < len(sessions); i++ {
		for j := i + 1; j < len(sessions); j++ {
			c := CheckGroupConflict(sessions[i], sessions[j])
			if !c.HasConflict {
				continue
			}
			out = append(out, PairConflict{First: sessions[i].GroupID, Second: sessions[j].GroupID, Conflict: c})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Conflict.Severity == SeverityCritical && out[j].Conflict.Severity != SeverityCritical
	})
	return out
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sameLocation(a, b string) bool {
	a = strings.TrimSpace(a)
	return a != "" && strings.EqualFold(a, strings.TrimSpace(b))
}

func label(s Session) string {
	if s.GroupName != "" {
		return s.GroupName
	}
	return "group " + s.GroupID
}
