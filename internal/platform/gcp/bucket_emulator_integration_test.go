package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-successbundle/internal/platform/logger"
)

func TestBucketClientEmulatorLifecycle(t *testing.T) {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SB_RUN_GCS_EMULATOR_INTEGRATION")), "true") {
		t.Skip("set SB_RUN_GCS_EMULATOR_INTEGRATION=true to run emulator integration tests")
	}
	emulatorHost := strings.TrimRight(strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")), "/")
	if emulatorHost == "" {
		emulatorHost = "http://127.0.0.1:4443"
	}
	if !isEmulatorReachable(emulatorHost) {
		t.Skipf("storage emulator not reachable at %s", emulatorHost)
	}

	bucket := fmt.Sprintf("sb-it-%d", time.Now().UnixNano())
	createBucketIfMissing(t, emulatorHost, bucket)

	ctx := context.Background()
	client, err := NewBucketClient(ctx, logger.NewNop(), ObjectStorageConfig{
		Mode:         ObjectStorageModeGCSEmulator,
		EmulatorHost: emulatorHost,
	}, "")
	if err != nil {
		t.Fatalf("NewBucketClient: %v", err)
	}
	defer client.Close()

	key := "transfers/export/run-1/core.zip"
	if err := client.Upload(ctx, bucket, key, strings.NewReader("alpha"), "application/zip"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	rc, err := client.Open(ctx, bucket, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil || string(body) != "alpha" {
		t.Fatalf("body=%q err=%v", body, err)
	}
	attrs, err := client.Attrs(ctx, bucket, key)
	if err != nil || attrs.Size != 5 {
		t.Fatalf("attrs=%+v err=%v", attrs, err)
	}
	keys, err := client.ListKeys(ctx, bucket, "transfers/")
	if err != nil || !slices.Contains(keys, key) {
		t.Fatalf("keys=%v err=%v", keys, err)
	}
	if _, err := client.Open(ctx, bucket, "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func isEmulatorReachable(emulatorHost string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(emulatorHost + "/storage/v1/b?project=local-dev")
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func createBucketIfMissing(t *testing.T, emulatorHost, bucket string) {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"name": bucket})
	resp, err := http.Post(emulatorHost+"/storage/v1/b?project=local-dev", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("create bucket %q: %v", bucket, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusConflict {
		return
	}
	b, _ := io.ReadAll(resp.Body)
	t.Fatalf("create bucket %q failed: status=%d body=%s", bucket, resp.StatusCode, strings.TrimSpace(string(b)))
}
