package flashcore

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// startKeepAlive runs the tester-present cooperative task spec §5 allows as
// the one concurrency concession: it ticks every cfg.TesterPresentInterval
// and stops cleanly when ctx is cancelled, via an errgroup.Group instead of
// an unmanaged goroutine (see SPEC_FULL.md §4.5) so a keep-alive failure
// propagates back through errg.Wait() rather than being silently dropped.
// stop() blocks until the keep-alive goroutine has actually exited; Flash
// calls it once after Phase F, before Phase G, with a deferred call as the
// fallback on every earlier return. TesterPresent
// races against whatever main-phase request is in flight on the same
// uds.Client; uds.Client.Request holds its own mutex for the duration of
// the send/receive exchange, so the two never interleave frames on the
// wire even though this goroutine issues requests independently.
func (s *FlashSession) startKeepAlive(ctx context.Context) (stop func() error) {
	errg, gctx := errgroup.WithContext(ctx)
	kaCtx, cancel := context.WithCancel(gctx)

	errg.Go(func() error {
		ticker := time.NewTicker(s.cfg.TesterPresentInterval)
		defer ticker.Stop()
		for {
			select {
			case <-kaCtx.Done():
				return nil
			case <-ticker.C:
				if err := s.UDS.TesterPresent(kaCtx); err != nil {
					s.log.Warn("flashcore: tester-present keep-alive failed", "err", err)
				}
			}
		}
	})

	var once sync.Once
	var waitErr error
	return func() error {
		once.Do(func() {
			cancel()
			waitErr = errg.Wait()
		})
		return waitErr
	}
}
