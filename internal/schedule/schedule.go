package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse validates a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
func Parse(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression '%s': %w", spec, err)
	}
	return sched, nil
}

// Start runs job on the given schedule until ctx is done. An empty spec
// disables the job. Runs never overlap: the next fire time is computed after
// the previous run returns.
func Start(ctx context.Context, name, spec string, logger logrus.FieldLogger, job func(ctx context.Context)) error {
	if strings.TrimSpace(spec) == "" {
		logger.WithField("job", name).Info("scheduled job disabled (no schedule)")
		return nil
	}
	sched, err := Parse(spec)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	logger.WithFields(logrus.Fields{"job": name, "cron": spec}).Info("scheduled job registered")

	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			wait := next.Sub(now)
			logger.WithFields(logrus.Fields{
				"job":  name,
				"next": next.Format("Mon Jan 2 15:04"),
				"in":   wait.Round(time.Second).String(),
			}).Debug("next scheduled run")

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			job(ctx)
		}
	}()
	return nil
}
