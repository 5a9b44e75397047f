package policy

import (
	"github.com/bosworks/bos/core/pkg/command"
	"github.com/bosworks/bos/core/pkg/kernel"
	"github.com/bosworks/bos/core/pkg/reject"
	"github.com/bosworks/bos/core/pkg/security"
)

// AnomalyRecorder feeds bus rejections into the anomaly detector so the
// repeated-rejection rule can fire.
type AnomalyRecorder struct {
	Detector *security.AnomalyDetector
	Clock    kernel.Clock
}

func (a *AnomalyRecorder) RecordRejection(cmd *command.Command, r reject.Rejection) {
	if a.Detector == nil {
		return
	}
	a.Detector.Record(security.Activity{
		ActorID:     cmd.ActorID(),
		TenantID:    cmd.BusinessID(),
		BranchID:    cmd.BranchID(),
		CommandType: cmd.Type(),
		Timestamp:   a.Clock.Now(),
		WasRejected: true,
	})
}
