package client

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultPollInterval  = 5 * time.Second
	DefaultChartInterval = 2 * time.Second
)

// Poll runs fetch immediately and then interval after each fetch returns, so fetches
// never overlap. A receive on wake triggers the next fetch early. Fetch errors go to
// onErr and do not stop the loop; Poll returns when ctx is done or fetch returns errStop.
func Poll(ctx context.Context, interval time.Duration, wake <-chan struct{}, fetch func(context.Context) error, onErr func(error)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if err := fetch(ctx); err != nil {
			if errors.Is(err, errStop) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if onErr != nil {
				onErr(err)
			}
		}
		timer.Reset(interval)
	}
}
