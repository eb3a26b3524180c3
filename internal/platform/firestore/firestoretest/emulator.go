// Package firestoretest provides a Firestore emulator for integration tests.
//
// When FIRESTORE_EMULATOR_HOST is already exported the running emulator is
// reused. Otherwise one docker container is started per test.
package firestoretest

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/gymhub/api/internal/platform/config"
	pfirestore "github.com/gymhub/api/internal/platform/firestore"
)

const (
	image        = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	readyTimeout = 30 * time.Second
)

// NewProvider returns a provider bound to an emulator. Tests are skipped
// when neither an exported emulator nor a docker daemon is available.
func NewProvider(t *testing.T, projectID string) *pfirestore.Provider {
	t.Helper()
	host := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	if host == "" {
		host = runContainer(t)
	}
	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: projectID, EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func runContainer(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker not found: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "run", "--detach", "--rm", "--publish", "127.0.0.1::8080",
		image, "gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet").Output()
	if err != nil {
		t.Skipf("docker run: %v", err)
	}
	container := strings.TrimSpace(string(out))
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		_ = exec.CommandContext(stopCtx, "docker", "rm", "--force", container).Run()
	})

	out, err = exec.CommandContext(ctx, "docker", "port", container, "8080/tcp").Output()
	if err != nil {
		t.Fatalf("docker port %s: %v", container, err)
	}
	// docker may print one mapping per address family.
	host := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if err := awaitListener(ctx, host); err != nil {
		t.Fatalf("emulator at %s: %v", host, err)
	}
	return host
}

func awaitListener(ctx context.Context, host string) error {
	var dialer net.Dialer
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		conn, err := dialer.DialContext(ctx, "tcp", host)
		if err == nil {
			return conn.Close()
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("not listening: %w", err)
		case <-tick.C:
		}
	}
}
