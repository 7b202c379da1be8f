package orchestrate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressFanout_TerminalClosesWatchers(t *testing.T) {
	f := newProgressFanout()
	ch, cancel := f.Watch("zed1")
	defer cancel()

	f.publish(Progress{ServerName: "zed1", Phase: "copying", Percent: 40})
	f.publish(Progress{ServerName: "zed1", Phase: PhaseComplete, Percent: 100})

	var phases []string
	for p := range ch {
		phases = append(phases, p.Phase)
	}
	assert.Equal(t, []string{"copying", PhaseComplete}, phases)
}

func TestProgressFanout_CancelDuringPublish(t *testing.T) {
	f := newProgressFanout()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				f.publish(Progress{ServerName: "zed1", Phase: "copying"})
			}
		}
	}()

	// Watchers detaching mid-operation must never observe a send on their
	// closed channel.
	for i := 0; i < 500; i++ {
		ch, cancel := f.Watch("zed1")
		cancel()
		for range ch {
		}
	}

	close(stop)
	wg.Wait()
}

func TestProgressFanout_CancelIsIdempotent(t *testing.T) {
	f := newProgressFanout()
	ch, cancel := f.Watch("zed1")
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
}
