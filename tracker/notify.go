package tracker

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/cryptomap/pulse/lib/push"
	"github.com/cryptomap/pulse/lib/store"
	"github.com/cryptomap/pulse/lib/util"
)

// Fanout aggregates the outcome of one notification pass over a project's subscribers.
type Fanout struct {
	Sent    int // deliveries accepted by the transport
	Failed  int // deliveries rejected, transiently or permanently
	Skipped int // subscribers whose threshold was not met
}

// notifyVolumeChange evaluates every enabled subscriber of the project against the current unique-wallet volume and
// delivers a push notification to each endpoint of those whose percentage threshold is met. The subscriber's
// lastNotifiedVolume baseline moves to currentVolume once delivery has been attempted to all their endpoints,
// whether or not any delivery succeeded: the transport is at-least-once and failures are not retried within the
// pass. Endpoints reported permanently gone are pruned. If the preferences or endpoints cannot be fetched, the pass
// is abandoned with zero counts and the next event for the project retries.
func (t *Tracker) notifyVolumeChange(projectID string, currentVolume uint64) Fanout {
	var f Fanout

	prefs, err := t.db.Preferences(projectID)
	if err != nil {
		log.Printf("[%s] Cannot fetch preferences, abandoning notification pass:%e", projectID, err)

		return f
	}

	if len(prefs) == 0 {
		return f
	}

	users := make([]string, 0, len(prefs))
	for _, p := range prefs {
		users = append(users, p.UserID)
	}

	eps, err := t.db.Endpoints(util.Dedup(users))
	if err != nil {
		log.Printf("[%s] Cannot fetch endpoints, abandoning notification pass:%e", projectID, err)

		return f
	}

	byUser := make(map[string][]store.PushEndpoint, len(prefs))
	for _, e := range eps {
		byUser[e.UserID] = append(byUser[e.UserID], e)
	}

	for _, p := range prefs {
		change := percentageChange(p.LastNotifiedVolume, currentVolume)

		// a subscriber with no baseline is always notified, whatever their threshold
		first := p.LastNotifiedVolume == 0 && currentVolume > 0

		if !first && math.Abs(change) < p.Threshold {
			f.Skipped++
			notificationsSkipped.Inc()

			continue
		}

		n := push.Notification{
			Title:     "Project volume changed",
			Body:      fmt.Sprintf("Volume moved %.1f%% to %d unique wallets", change, currentVolume),
			ProjectID: projectID,
			Volume:    currentVolume,
			Change:    change,
		}

		for _, ep := range byUser[p.UserID] {
			if errSend := t.sender.Send(ep, n); errSend != nil {
				f.Failed++
				notificationsFailed.Inc()

				if errors.Is(errSend, push.ErrEndpointGone) {
					if errRm := t.db.RemoveEndpoint(ep.Endpoint); errRm != nil {
						log.Printf("[%s] Cannot remove expired endpoint %s:%e", projectID, ep.Endpoint, errRm)
					} else {
						log.Printf("[%s] Removed expired endpoint %s of %s", projectID, ep.Endpoint, p.UserID)
					}
				} else {
					log.Printf("[%s] Delivery to %s failed:%e", projectID, ep.Endpoint, errSend)
				}
			} else {
				f.Sent++
				notificationsSent.Inc()
			}
		}

		// the baseline moves exactly once per subscriber, delivery failures do not roll it back
		if err = t.db.SetLastNotified(p.UserID, projectID, currentVolume); err != nil {
			log.Printf("[%s] Cannot update lastNotifiedVolume of %s:%e", projectID, p.UserID, err)
		}
	}

	log.Printf("[%s] Notification pass volume:%d sent:%d failed:%d skipped:%d",
		projectID, currentVolume, f.Sent, f.Failed, f.Skipped)

	return f
}

// percentageChange computes the change of current against the last notified baseline. The first measured volume of a
// subscriber with no baseline yet is reported as a 100% change; the gating above never compares it to the threshold.
func percentageChange(last, current uint64) float64 {
	switch {
	case last > 0:
		return (float64(current) - float64(last)) / float64(last) * 100
	case current > 0:
		return 100
	default:
		return 0
	}
}
