// SPDX-License-Identifier: MIT

package supervisor

import (
	"context"

	"github.com/picommcapp/kiosk-supervisor/internal/util"
)

// WrapPanicSafe wraps svc so a panic inside Run is recovered and turned
// into an error return instead of crashing the whole process. The
// supervisor's own restart backoff then treats it like any other failed
// Run: the probe restarts on the configured delay rather than taking the
// supervisor tick or scrape server down with it.
//
// Applied at the Service boundary rather than inside each probe's own
// goroutines, since every probe already runs inside the suture-adapted
// Serve goroutine this package owns.
func WrapPanicSafe(svc Service) Service {
	return panicSafeService{svc: svc}
}

type panicSafeService struct {
	svc Service
}

func (p panicSafeService) Name() string { return p.svc.Name() }

func (p panicSafeService) Run(ctx context.Context) error {
	return util.RecoverToError(func() error { return p.svc.Run(ctx) })
}
