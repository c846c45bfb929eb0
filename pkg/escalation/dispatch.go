package escalation

import (
	"context"
	"fmt"
	"sync"

	"guardian-server/pkg/metrics"
	"guardian-server/pkg/notify"
)

// dispatch fans one alert out to every notification channel concurrently
// and waits for all of them to settle. A channel failing, or even
// panicking, is captured as a failed outcome for that channel only; the
// sibling dispatch always completes and is always reported.
//
// The send context is built from context.Background, never from the
// inbound request: a chat client disconnecting mid-escalation must not
// cancel the caregiver alert. The dispatch timeout is the only bound.
func (o *Orchestrator) dispatch(alert notify.Alert, meta *UserMeta) []notify.Outcome {
	if meta != nil {
		alert.UserName = meta.Name
		alert.CaregiverName = meta.CaregiverName
	}

	sendCtx, cancel := context.WithTimeout(context.Background(), o.dispatchTimeout)
	defer cancel()

	outcomes := make([]notify.Outcome, len(o.channels))
	var wg sync.WaitGroup

	for i, channel := range o.channels {
		wg.Add(1)
		go func(i int, channel notify.Channel) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					o.logger.WithFields(map[string]interface{}{
						"channel": channel.Name(),
						"panic":   r,
					}).Error("Notification channel panicked")
					outcomes[i] = notify.Outcome{
						Channel: channel.Name(),
						Error:   fmt.Sprintf("channel panicked: %v", r),
					}
				}
			}()

			done := metrics.ObserveDispatch(channel.Name())
			outcomes[i] = channel.Send(sendCtx, alert)
			done()

			metrics.RecordDispatch(channel.Name(), outcomes[i].Delivered)
		}(i, channel)
	}

	wg.Wait()
	return outcomes
}
