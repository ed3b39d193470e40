package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"peerlink/config"
	"peerlink/feed"
	"peerlink/models"
	"peerlink/network"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInfoPrintsDeviceIdentity(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(config.DataDirEnv, dataDir)

	out, err := runCommand(t, "info")
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	for _, want := range []string{"Device ID:", "Group Port:      13099", "Tag AID:         D2760000850101", dataDir} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestHistoryListsPeersAndConversation(t *testing.T) {
	t.Setenv(config.DataDirEnv, t.TempDir())

	a, err := openApp(&cobra.Command{}, &rootFlags{})
	if err != nil {
		t.Fatalf("openApp failed: %v", err)
	}
	for _, message := range []models.Message{
		{PeerID: "AA:BB:CC:DD:EE:FF", Body: "hi there", FromMe: true, Transport: models.TransportRadio, Status: models.StatusSent},
		{PeerID: "AA:BB:CC:DD:EE:FF", Body: "hello back", Transport: models.TransportRadio},
	} {
		if _, err := a.store.SaveMessage(message); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}
	a.Close()

	out, err := runCommand(t, "history", "bt")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if strings.TrimSpace(out) != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("unexpected peers output %q", out)
	}

	out, err = runCommand(t, "history", "bt", "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %q", out)
	}
	if !strings.Contains(lines[0], "> hi there [sent]") || !strings.Contains(lines[1], "< hello back [sent]") {
		t.Fatalf("unexpected conversation output %q", out)
	}
}

func TestHistoryRejectsUnknownTransport(t *testing.T) {
	t.Setenv(config.DataDirEnv, t.TempDir())

	if _, err := runCommand(t, "history", "carrier-pigeon"); err == nil {
		t.Fatalf("expected unknown transport to be rejected")
	}
}

func TestBadLogLevelFailsStartup(t *testing.T) {
	t.Setenv(config.DataDirEnv, t.TempDir())

	if _, err := runCommand(t, "info", "--log-level", "chatty"); err == nil {
		t.Fatalf("expected bad log level to be rejected")
	}
}

// statesOnly serves States from a feed; every other method is unused.
type statesOnly struct {
	network.Manager
	states *network.StateFeed
}

func (m statesOnly) States() (<-chan network.ConnectionState, func()) {
	return m.states.Subscribe()
}

func TestWatchStatesPrintsAndRelays(t *testing.T) {
	var out bytes.Buffer
	a := &app{hub: feed.NewHub(), out: &out}
	events, unsubscribe := a.hub.Subscribe()
	defer unsubscribe()

	states := network.NewStateFeed(network.Idle())
	stop := a.watchStates(models.TransportRadio, statesOnly{states: states})
	states.Publish(network.Listening())

	timeout := time.After(2 * time.Second)
	for relayed := false; !relayed; {
		select {
		case evt := <-events:
			state, ok := evt.Data.(feed.State)
			relayed = ok && evt.Transport == models.TransportRadio && state.Kind == network.StateListening
		case <-timeout:
			t.Fatalf("state never reached the feed")
		}
	}
	stop()

	if !strings.Contains(out.String(), "* bt LISTENING") {
		t.Fatalf("expected printed state, got %q", out.String())
	}
}
