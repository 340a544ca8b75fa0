package procgraph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// Handle is a spawned process. It belongs to its spawner until awaited.
type Handle struct {
	ID string

	cmd  Command
	proc *exec.Cmd
	tail *tailBuffer

	claimed  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	stopWhy  error
	done     chan struct{}

	// Written by monitor before done is closed.
	status  ExitStatus
	reason  error
	waitErr error
}

// Name returns the command's logical name.
func (h *Handle) Name() string { return h.cmd.Name }

// PID returns the OS process id.
func (h *Handle) PID() int { return h.proc.Process.Pid }

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the process exits and returns its status. A non-zero
// exit yields an *ExitError. Cancelling ctx terminates the process. Only the
// first call waits; later calls return ErrAlreadyAwaited.
func (h *Handle) Wait(ctx context.Context) (ExitStatus, error) {
	if !h.claim() {
		return ExitStatus{}, fmt.Errorf("%w: %s", ErrAlreadyAwaited, h.cmd.Name)
	}
	return h.await(ctx)
}

// Stop asks the process group to terminate. It does not wait.
func (h *Handle) Stop(reason error) {
	h.stopOnce.Do(func() {
		h.stopWhy = reason
		close(h.stop)
	})
}

func (h *Handle) claim() bool {
	return h.claimed.CompareAndSwap(false, true)
}

func (h *Handle) await(ctx context.Context) (ExitStatus, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		h.Stop(ctx.Err())
		<-h.done
	}
	return h.status, h.result()
}

func (h *Handle) monitor(ctx context.Context, timeout, grace time.Duration, stdout *os.File) {
	waitDone := make(chan error, 1)
	go func() { waitDone <- h.proc.Wait() }()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	var err error
	select {
	case err = <-waitDone:
	case <-ctx.Done():
		h.reason = ctx.Err()
		err = h.terminate(waitDone, grace)
	case <-h.stop:
		h.reason = h.stopWhy
		if h.reason == nil {
			h.reason = context.Canceled
		}
		err = h.terminate(waitDone, grace)
	case <-expired:
		h.reason = ErrWaitTimeout
		err = h.terminate(waitDone, grace)
	}

	if stdout != nil {
		stdout.Close()
	}
	h.status.Finished = time.Now()
	if ps := h.proc.ProcessState; ps != nil {
		h.status.Code = ps.ExitCode()
		h.status.Signaled = ps.ExitCode() == -1
	}
	if err != nil && !errors.As(err, new(*exec.ExitError)) {
		h.waitErr = err
	}
	close(h.done)
}

func (h *Handle) terminate(waitDone <-chan error, grace time.Duration) error {
	signalGroup(h.proc.Process, sigTerm)
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case err := <-waitDone:
		return err
	case <-t.C:
		signalGroup(h.proc.Process, sigKill)
		return <-waitDone
	}
}

func (h *Handle) result() error {
	exitErr := func(err error) *ExitError {
		return &ExitError{
			Name:    h.cmd.Name,
			Program: h.cmd.Program,
			File:    h.cmd.File,
			Code:    h.status.Code,
			Stderr:  h.tail.String(),
			Err:     err,
		}
	}

	switch {
	case errors.Is(h.reason, ErrWaitTimeout):
		return exitErr(ErrWaitTimeout)
	case h.reason != nil:
		return fmt.Errorf("%s terminated: %w", h.cmd.Name, h.reason)
	case h.waitErr != nil && h.proc.ProcessState == nil:
		return exitErr(h.waitErr)
	case !h.status.Success():
		return exitErr(nil)
	}
	return nil
}

// WaitAll waits for every handle and joins their errors.
func WaitAll(ctx context.Context, handles ...*Handle) error {
	var errs []error
	for _, h := range handles {
		if _, err := h.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
