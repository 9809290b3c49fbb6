package sink

import (
	"context"
	"net/http"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/kx0101/accesslog-replayer/internal/models"
)

func runNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("starting nats server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)

	return ns
}

func TestNATSSink(t *testing.T) {
	ns := runNATSServer(t)

	sub, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	defer sub.Close()

	msgs, err := sub.SubscribeSync("replay.outcomes")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	s, err := NewNATSSink(ns.ClientURL(), "replay.outcomes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	entry := testEntry(t, epoch, "http://example.com/status")
	records := []Record{
		NewRecord("run-3", entry, models.Succeeded(0, http.StatusOK), epoch),
		NewRecord("run-3", entry, models.Succeeded(1, http.StatusBadGateway), epoch),
	}
	records[0].Doc = []byte(`{"index":0}`)
	records[1].Doc = []byte(`{"index":1}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Write(ctx, records); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	for i, want := range records {
		msg, err := msgs.NextMsg(2 * time.Second)
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}

		if got := msg.Header.Get("Nats-Msg-Id"); got != want.ID {
			t.Errorf("message %d: Nats-Msg-Id = %q, want %q", i, got, want.ID)
		}

		if got := msg.Header.Get("Replayer-Run-Id"); got != "run-3" {
			t.Errorf("message %d: Replayer-Run-Id = %q", i, got)
		}

		if string(msg.Data) != string(want.Doc) {
			t.Errorf("message %d: payload %s, want %s", i, msg.Data, want.Doc)
		}
	}
}

func TestNATSSink_WriteWithoutDeadline(t *testing.T) {
	ns := runNATSServer(t)

	s, err := NewNATSSink(ns.ClientURL(), "replay.outcomes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Write(context.Background(), []Record{{ID: "01A", Doc: []byte(`{}`)}}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("drain failed: %v", err)
	}
}

func TestNewNATSSink_Unreachable(t *testing.T) {
	ns := runNATSServer(t)
	url := ns.ClientURL()
	ns.Shutdown()

	if _, err := NewNATSSink(url, "replay.outcomes"); err == nil {
		t.Fatal("expected connect error")
	}
}
