package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/internal/diag"
	"github.com/signalsfoundry/uav-delivery-sim/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const smokeScenario = `{
  "nodes": [
    {"id": 1, "x": 100, "y": 100, "z": 50},
    {"id": 2, "x": 150, "y": 100, "z": 50}
  ],
  "requests": [{"source": 1, "destinations": [2]}]
}`

func startServer(t *testing.T, cfg Config) (*diag.Client, context.CancelFunc, <-chan error) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	cfg.ListenAddress = lis.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, logging.Noop(), lis)
	}()

	conn, err := grpc.NewClient(cfg.ListenAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		cancel()
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return diag.NewClient(conn), cancel, errCh
}

func TestSimServerStartupSmoke(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.json")
	if err := os.WriteFile(path, []byte(smokeScenario), 0o600); err != nil {
		t.Fatalf("write scenario: %v", err)
	}

	client, cancel, errCh := startServer(t, Config{
		ScenarioPath: path,
		TickInterval: 10 * time.Millisecond,
		Accelerated:  false,
		AutoAdvance:  false,
	})
	defer cancel()

	ctx := context.Background()
	resp, err := client.GetPackets(ctx, nil)
	if err != nil {
		t.Fatalf("GetPackets: %v", err)
	}
	if got := len(resp.GetFields()["packets"].GetListValue().GetValues()); got != 1 {
		t.Fatalf("expected the scenario packet, got %d", got)
	}

	adv, err := client.Advance(ctx, 0)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !adv.GetFields()["completed"].GetBoolValue() {
		t.Fatalf("expected run to complete: %v", adv)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}

func TestSimServerAutoAdvance(t *testing.T) {
	client, cancel, errCh := startServer(t, Config{
		Nodes:        5,
		TickInterval: 5 * time.Millisecond,
		AutoAdvance:  true,
	})
	defer cancel()

	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := client.GetPackets(ctx, nil)
		if err != nil {
			t.Fatalf("GetPackets: %v", err)
		}
		if resp.GetFields()["round"].GetNumberValue() >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("round loop did not advance: %v", resp)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}
