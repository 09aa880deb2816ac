package transfer

import "github.com/dmitrijs2005/uploadkeeper/internal/models"

// Observer receives progress for every state change of a transfer. Each Run
// delivers exactly one notification with a terminal status, or a PENDING
// notification carrying Err when registration fails.
type Observer interface {
	OnProgress(p models.Progress)
}

type ObserverFunc func(p models.Progress)

func (f ObserverFunc) OnProgress(p models.Progress) { f(p) }

// Observers fans a notification out to each member in order.
type Observers []Observer

func (o Observers) OnProgress(p models.Progress) {
	for _, obs := range o {
		if obs != nil {
			obs.OnProgress(p)
		}
	}
}

type nopObserver struct{}

func (nopObserver) OnProgress(models.Progress) {}
