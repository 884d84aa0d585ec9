// Cron-scheduled eviction sweep, for deployments that prefer a cron
// expression (e.g. "every 5 minutes" aligned to wall-clock boundaries) over
// the fixed-interval ticker in Start.
package sandbox

import (
	"context"

	"github.com/robfig/cron"
)

// StartCron launches the idle-eviction sweep on a cron schedule instead of
// the fixed-interval ticker used by Start. spec uses robfig/cron's
// six-field syntax, whose first field is seconds: "0 */5 * * * *" runs every
// five minutes, while a five-field "*/5 * * * *" is also read seconds-first
// and runs every five seconds. Returns the
// running *cron.Cron so callers can Stop it independently of Pool.Stop.
func (p *Pool) StartCron(spec string) (*cron.Cron, error) {
	c := cron.New()
	if err := c.AddFunc(spec, func() { p.evictIdle(context.Background()) }); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
