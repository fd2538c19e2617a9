package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func NewReconciliationSweep(mirror *RegistryMirror, sugar *zap.SugaredLogger) *ReconciliationSweep {
	return &ReconciliationSweep{mirror: mirror, sugar: sugar}
}

// Run updates every cached package concurrently and waits for all of them.
// A failed update neither stops its siblings nor undoes writes already made;
// the first failure is reported in the result.
func (s *ReconciliationSweep) Run(ctx context.Context) SweepResult {
	var g errgroup.Group
	var succeeded, failed atomic.Int64
	var enumErr error

	launched := 0
	for packageName, err := range s.mirror.EnumerateCachedNames(ctx) {
		if err != nil {
			enumErr = fmt.Errorf("error enumerating cached packages: %w", err)
			s.sugar.Error(enumErr)
			break
		}
		pkg := s.mirror.Package(packageName)
		launched++
		g.Go(func() error {
			result, err := pkg.Update(ctx)
			if err != nil {
				failed.Add(1)
				s.sugar.Errorf("error updating package %s: %v", pkg, err)
				return fmt.Errorf("error updating package %s: %w", pkg, err)
			}
			succeeded.Add(1)
			if result.Written {
				s.sugar.Infof("updated %s with %d new versions", pkg, len(result.AddedVersions))
			}
			return nil
		})
	}
	s.sugar.Debugf("launched %d package updates", launched)

	err := g.Wait()
	if err == nil {
		err = enumErr
	}
	result := SweepResult{
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Err:       err,
	}
	s.sugar.Infof("sweep finished: %d succeeded, %d failed", result.Succeeded, result.Failed)
	return result
}
