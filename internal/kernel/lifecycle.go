package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

var errAlreadyRunning = errors.New("kernel already running")

// Run starts modules in registration order, then every driver, and blocks
// until ctx ends or a driver fails. Shutdown runs before Run returns in every
// case; a clean cancellation returns nil.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.running.TryLock() {
		return fmt.Errorf("kernel run: %w", errAlreadyRunning)
	}
	defer k.running.Unlock()

	if err := k.startModules(ctx); err != nil {
		return errors.Join(err, k.shutdown(ctx))
	}

	return errors.Join(k.superviseDrivers(ctx), k.shutdown(ctx))
}

func (k *Kernel) startModules(ctx context.Context) error {
	for _, record := range k.moduleSnapshot() {
		if err := k.runHook(ctx, "module "+record.name+" OnStart", record.module.OnStart); err != nil {
			return fmt.Errorf("start module %s: %w", record.name, err)
		}
	}

	return nil
}

// superviseDrivers runs every driver in its own goroutine. The first driver
// failure cancels the rest. Once the group is cancelled the drivers get the
// shutdown timeout to return before they are abandoned.
func (k *Kernel) superviseDrivers(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	dispatcher := k.newDriverDispatcher()
	for _, driver := range k.driverSnapshot() {
		group.Go(func() error {
			err := runSafely("driver "+driver.Name()+" Start", func() error {
				return driver.Start(groupCtx, dispatcher)
			})
			if err == nil || isContextCancellation(err) {
				return nil
			}
			return fmt.Errorf("run driver %s: %w", driver.Name(), err)
		})
	}

	finished := make(chan error, 1)
	go func() {
		finished <- group.Wait()
	}()

	select {
	case err := <-finished:
		return err
	case <-groupCtx.Done():
	}

	timer := time.NewTimer(k.cfg.shutdownTimeout)
	defer timer.Stop()
	select {
	case err := <-finished:
		return err
	case <-timer.C:
		k.bus.reportAsyncError(ctx, "kernel", fmt.Errorf("drivers still running after %s", k.cfg.shutdownTimeout))
		if cause := context.Cause(groupCtx); !isContextCancellation(cause) {
			return cause
		}
		return nil
	}
}

// shutdown stops drivers, then modules, both in reverse registration order,
// and closes the bus last. It detaches from ctx so cleanup still runs after
// the parent was cancelled.
func (k *Kernel) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	var failures []error
	drivers := k.driverSnapshot()
	for index := len(drivers) - 1; index >= 0; index-- {
		driver := drivers[index]
		if err := runSafely("driver "+driver.Name()+" Shutdown", func() error {
			return driver.Shutdown(shutdownCtx)
		}); err != nil {
			failures = append(failures, fmt.Errorf("shutdown driver %s: %w", driver.Name(), err))
		}
	}

	modules := k.moduleSnapshot()
	for index := len(modules) - 1; index >= 0; index-- {
		record := modules[index]
		if err := record.closeSubscriptions(shutdownCtx); err != nil {
			failures = append(failures, fmt.Errorf("shutdown module %s subscriptions: %w", record.name, err))
		}
		if err := k.runHook(shutdownCtx, "module "+record.name+" OnShutdown", record.module.OnShutdown); err != nil {
			failures = append(failures, fmt.Errorf("shutdown module %s: %w", record.name, err))
		}
	}

	if err := k.bus.Close(shutdownCtx); err != nil {
		failures = append(failures, err)
	}
	if len(failures) > 0 {
		return fmt.Errorf("kernel shutdown: %w", errors.Join(failures...))
	}

	return nil
}

// runHook calls one module lifecycle hook under the hook timeout with panics
// converted to errors.
func (k *Kernel) runHook(ctx context.Context, scope string, hook func(context.Context) error) error {
	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.hookTimeout)
	defer cancel()

	return runSafely(scope, func() error {
		return hook(hookCtx)
	})
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
