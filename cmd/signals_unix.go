//go:build unix

package cmd

import (
	"os"
	"os/signal"

	"github.com/agentic-research/partbom/internal/events"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// watchSignals maps process signals onto bus topics: SIGCONT (the job was
// foregrounded) is a focus event, SIGUSR1 opens the create view.
func watchSignals(bus *events.Bus, log *zap.Logger) (stop func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, unix.SIGCONT, unix.SIGUSR1)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				log.Debug("signal", zap.Stringer("signal", sig))
				switch sig {
				case unix.SIGCONT:
					bus.Publish(events.TopicFocus)
				case unix.SIGUSR1:
					bus.Publish(events.TopicOpenCreateView)
				}
			case <-quit:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(quit)
	}
}
