package archive

import (
	"context"

	"github.com/teranos/upilookup/errors"
	"github.com/teranos/upilookup/pulse/async"
)

// SaveWhenDrained waits for ctrl's current run to drain, then archives it.
// Returns the archived state.
func (s *Store) SaveWhenDrained(ctx context.Context, ctrl *async.Controller, source string) (async.JobState, error) {
	if err := ctrl.Wait(ctx); err != nil {
		return async.JobState{}, errors.Wrap(err, "wait for run to drain")
	}

	state := ctrl.Snapshot()
	if err := s.SaveRun(ctx, state, ctrl.Store().BySequence(), source); err != nil {
		return state, err
	}
	return state, nil
}
