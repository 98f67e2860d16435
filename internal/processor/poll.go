// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"fmt"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/nimbus/internal/nimbus"
)

// pollOutcome classifies one observation of an async OpenStack operation.
type pollOutcome int

const (
	// pollPending means the operation is still in progress; sleep and retry.
	pollPending pollOutcome = iota
	// pollSucceeded means the observe callback saw the target state and
	// already finalized the mirror row.
	pollSucceeded
	// pollFailed means OpenStack reported a terminal failure state.
	pollFailed
)

// errPollBudgetExhausted distinguishes a timed-out poll from a poll that
// observed a failure state. Both mark the entity failed; the distinction
// only matters for the log line.
var errPollBudgetExhausted = fmt.Errorf("exceeded maximum number of sync attempts")

// poll drives one polling state machine to completion. Each iteration
// fetches the current system token (so a token rotation during a long poll
// is picked up) and invokes the observe callback, which checks OpenStack
// and finalizes the mirror row in its own short transaction when a terminal
// state is reached. No database transaction is held while sleeping.
//
// The total time budget is MaxAttempts * Interval; when it runs out without
// a terminal state, errPollBudgetExhausted is returned.
func (p *Processor) poll(ctx context.Context, description string, cfg nimbus.PollConfig, observe func(ctx context.Context, systemToken string) (pollOutcome, error)) error {
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		token, err := p.systemToken()
		if err != nil {
			return err
		}

		outcome, err := observe(ctx, token)
		if err != nil {
			return err
		}
		switch outcome {
		case pollSucceeded:
			return nil
		case pollFailed:
			return fmt.Errorf("openstack reported a failure state while polling %s", description)
		}

		logg.Debug("still polling %s (attempt %d/%d)", description, attempt, cfg.MaxAttempts)
		err = p.sleep(ctx, cfg.Interval)
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("%w while polling %s", errPollBudgetExhausted, description)
}
