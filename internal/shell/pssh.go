// File: internal/shell/pssh.go
// Brief: Parallel SSH fan-out across a host list.

package shell

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

type psshHandle struct {
	mu      sync.Mutex
	handles []*sshHandle
	group   *errgroup.Group

	once    sync.Once
	results []Result
	err     error
}

// startPSSH dials every host concurrently and starts the command on each.
// If any host fails to start, already-started hosts are killed.
func startPSSH(ctx context.Context, cmd string, info ExecInfo) (Handle, error) {
	hosts := info.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost"}
	}
	h := &psshHandle{handles: make([]*sshHandle, len(hosts))}
	g, gctx := errgroup.WithContext(ctx)
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			sh, err := dialAndStart(gctx, host, cmd, info)
			if err != nil {
				return err
			}
			h.mu.Lock()
			h.handles[i] = sh
			h.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = h.Kill()
		return nil, err
	}

	wg, _ := errgroup.WithContext(ctx)
	for _, sh := range h.handles {
		sh := sh
		wg.Go(func() error {
			_, err := sh.Wait()
			return err
		})
	}
	h.group = wg
	return h, nil
}

func (h *psshHandle) Wait() ([]Result, error) {
	h.once.Do(func() {
		h.err = h.group.Wait()
		for _, sh := range h.handles {
			res, _ := sh.Wait()
			h.results = append(h.results, res...)
		}
	})
	return h.results, h.err
}

func (h *psshHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var firstErr error
	for _, sh := range h.handles {
		if sh == nil {
			continue
		}
		if err := sh.Kill(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
