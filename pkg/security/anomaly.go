package security

import (
	"fmt"
	"sync"
	"time"

	"github.com/bosworks/bos/core/pkg/kernel"
)

// Severity orders anomaly findings. BLOCK > WARN > INFO.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityBlock
)

func (s Severity) String() string {
	switch s {
	case SeverityBlock:
		return "BLOCK"
	case SeverityWarn:
		return "WARN"
	default:
		return "INFO"
	}
}

// Activity is one observed command, accepted or rejected.
type Activity struct {
	ActorID     string
	TenantID    string
	BranchID    string
	CommandType string
	Timestamp   time.Time
	WasRejected bool
}

// AnomalyThresholds tunes the rule set.
type AnomalyThresholds struct {
	// VelocityCount commands within Window raise WARN.
	VelocityCount int `yaml:"velocity_count" json:"velocity_count"`
	// BranchCount distinct branches within BranchWindow exceeded raises BLOCK.
	BranchCount  int           `yaml:"branch_count" json:"branch_count"`
	BranchWindow time.Duration `yaml:"branch_window" json:"branch_window"`
	// RejectionCount rejections of one command type within Window raise WARN.
	RejectionCount int           `yaml:"rejection_count" json:"rejection_count"`
	Window         time.Duration `yaml:"window" json:"window"`
}

func DefaultAnomalyThresholds() AnomalyThresholds {
	return AnomalyThresholds{
		VelocityCount:  100,
		BranchCount:    3,
		BranchWindow:   30 * time.Second,
		RejectionCount: 5,
		Window:         60 * time.Second,
	}
}

// Finding is the detector's verdict for one actor and tenant.
type Finding struct {
	Severity Severity
	Reasons  []string
}

// AnomalyDetector runs a deterministic rule set over recent activity.
// Records older than twice the window are evicted on write.
type AnomalyDetector struct {
	mu         sync.Mutex
	thresholds AnomalyThresholds
	clock      kernel.Clock
	activity   map[string][]Activity
}

func NewAnomalyDetector(thresholds AnomalyThresholds, clock kernel.Clock) *AnomalyDetector {
	return &AnomalyDetector{
		thresholds: thresholds,
		clock:      clock,
		activity:   make(map[string][]Activity),
	}
}

func bucketKey(actorID, tenantID string) string { return actorID + ":" + tenantID }

// Record observes one command.
func (d *AnomalyDetector) Record(a Activity) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := bucketKey(a.ActorID, a.TenantID)
	cutoff := d.clock.Now().Add(-2 * d.thresholds.Window)

	kept := d.activity[key][:0]
	for _, old := range d.activity[key] {
		if old.Timestamp.After(cutoff) {
			kept = append(kept, old)
		}
	}
	d.activity[key] = append(kept, a)
}

// Assess evaluates the rules for an actor and tenant at the current clock
// instant, returning the highest-severity finding.
func (d *AnomalyDetector) Assess(actorID, tenantID string) Finding {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	recent := make([]Activity, 0)
	for _, a := range d.activity[bucketKey(actorID, tenantID)] {
		if a.Timestamp.After(now.Add(-d.thresholds.Window)) {
			recent = append(recent, a)
		}
	}

	finding := Finding{Severity: SeverityInfo}

	if len(recent) >= d.thresholds.VelocityCount {
		finding = raise(finding, SeverityWarn,
			fmt.Sprintf("high velocity: %d commands in window", len(recent)))
	}

	branches := make(map[string]struct{})
	branchCutoff := now.Add(-d.thresholds.BranchWindow)
	for _, a := range recent {
		if a.BranchID != "" && a.Timestamp.After(branchCutoff) {
			branches[a.BranchID] = struct{}{}
		}
	}
	if len(branches) > d.thresholds.BranchCount {
		finding = raise(finding, SeverityBlock,
			fmt.Sprintf("rapid branch switching: %d branches", len(branches)))
	}

	rejections := make(map[string]int)
	for _, a := range recent {
		if a.WasRejected {
			rejections[a.CommandType]++
		}
	}
	for ct, n := range rejections {
		if n >= d.thresholds.RejectionCount {
			finding = raise(finding, SeverityWarn,
				fmt.Sprintf("repeated rejections of %s: %d", ct, n))
		}
	}

	return finding
}

func raise(f Finding, s Severity, reason string) Finding {
	if s > f.Severity {
		f.Severity = s
	}
	f.Reasons = append(f.Reasons, reason)
	return f
}
