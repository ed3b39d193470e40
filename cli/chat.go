package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"peerlink/models"
	"peerlink/network"
)

// watchStates prints every state of m and relays it to the feed. The
// returned func stops watching and waits for both followers to finish.
func (a *app) watchStates(transport models.Transport, m network.Manager) func() {
	printed, stopPrinting := m.States()
	relayed, stopRelaying := m.States()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for state := range printed {
			fmt.Fprintf(a.out, "* %s %s\n", transport, state)
		}
	}()
	go func() {
		defer wg.Done()
		a.hub.FollowStates(context.Background(), transport, relayed)
	}()
	return func() {
		stopPrinting()
		stopRelaying()
		wg.Wait()
	}
}

// chat sends each input line over m until input ends or ctx is cancelled.
func (a *app) chat(ctx context.Context, m network.Manager) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if err := m.Send(ctx, text); err != nil {
				a.log.Warn("send failed", zap.Error(err))
				fmt.Fprintf(a.out, "! not delivered: %v\n", err)
				continue
			}
			fmt.Fprintf(a.out, "> %s\n", text)
		}
	}
}
