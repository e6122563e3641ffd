// Package link runs the shared connection lifecycle for the telemetry
// sources: open the transport, hand control to the reader, and on any
// failure close, wait, and try again for as long as the process runs.
package link

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// RetrySleep is the fixed delay before a reconnect attempt. Package variable
// so tests can remove the wait.
var RetrySleep = 5 * time.Second

// Retryable is one connectable source. Open establishes the transport, Run
// reads until an error or cancellation, Close tears the transport down.
type Retryable interface {
	Open() error
	Close() error
	Run(ctx context.Context) error
	Name() string
}

// Retry loops r through open/run/close until ctx is cancelled. There is no
// backoff growth and no retry cap: a source that stays unavailable is
// reattempted every RetrySleep for the process lifetime.
func Retry(ctx context.Context, r Retryable) error {
	errStarting := errors.New("starting")
	err := errStarting
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			if err != errStarting {
				log.WithField("err", err).Errorf("%s: reconnecting due to error", r.Name())
				if err = r.Close(); err != nil {
					log.WithField("err", err).Warnf("%s: unable to close", r.Name())
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(RetrySleep):
				}
			}
			err = r.Open()
			if err != nil {
				continue
			}
			log.Infof("%s: connected", r.Name())
		}
		err = r.Run(ctx)
	}
}
