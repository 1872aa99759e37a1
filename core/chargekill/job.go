package chargekill

import (
	"context"
	"fmt"

	"github.com/kilianp07/citro80/core/jobs"
)

// Handle is the kill-charging job handler. Provider failures are returned
// so the queue retries the job.
func (k *Killer) Handle(ctx context.Context, j jobs.Job) error {
	p, err := jobs.Decode[jobs.KillChargingPayload](j)
	if err != nil {
		return err
	}
	if p.VehicleID == "" {
		return jobs.Permanent(fmt.Errorf("chargekill: empty vehicle id"))
	}
	res, err := k.Evaluate(ctx, p.VehicleID)
	if err != nil {
		return err
	}
	if res.Outcome == OutcomeNotYet {
		k.logger.Infow("not finished charging yet", map[string]any{"vehicle_id": p.VehicleID, "attempt": j.Attempt})
	}
	return nil
}
