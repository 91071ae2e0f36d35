package store

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/andresmejia3/limblift/internal/types"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("limblift_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	lengths := types.SegmentLengths{L1: 5, L2: 4}
	videoID := "3f2a9c00deadbeef"
	if err := s.EnsureVideoMetadata(ctx, videoID, "/data/run1.csv", lengths); err != nil {
		t.Fatalf("EnsureVideoMetadata failed: %v", err)
	}

	frames := []types.SolvedFrame{
		{
			Index:  0,
			Params: types.KinematicParams{DepthBase: 1, Theta1: math.Pi / 2, Theta2: 1.2},
			Joints: [3]types.Keypoint3D{{X: 10, Y: 2, Z: 1}, {X: 10, Y: 2, Z: 6}, {X: 11.4, Y: 2, Z: 9.7}},
			Cost:   1e-12, Iterations: 9, Status: "GradientThreshold",
		},
		{Index: 1, Gap: true, Status: "optimization failure"},
	}
	n, err := s.InsertSolvedFrames(ctx, videoID, frames, []int{100, 101})
	if err != nil {
		t.Fatalf("InsertSolvedFrames failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 copied rows, got %d", n)
	}

	videos, err := s.ListVideos(ctx)
	if err != nil {
		t.Fatalf("ListVideos failed: %v", err)
	}
	if len(videos) != 1 {
		t.Fatalf("Expected 1 video, got %d", len(videos))
	}
	if videos[0].Frames != 2 || videos[0].Gaps != 1 || videos[0].Lengths != lengths {
		t.Errorf("Unexpected video summary %+v", videos[0])
	}

	// Lookup by prefix
	id, stored, err := s.GetSolvedFrames(ctx, videoID[:6])
	if err != nil {
		t.Fatalf("GetSolvedFrames failed: %v", err)
	}
	if id != videoID {
		t.Errorf("Resolved id %q, want %q", id, videoID)
	}
	if len(stored) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(stored))
	}
	if stored[0].FrameNumber != 100 || stored[0].Params != frames[0].Params || stored[0].Joints != frames[0].Joints {
		t.Errorf("Mismatch in persisted frame. Got %+v", stored[0])
	}
	if !stored[1].Gap {
		t.Error("Expected second frame to be a gap")
	}

	// Re-solving the same video replaces its frames
	if err := s.EnsureVideoMetadata(ctx, videoID, "/data/run1.csv", lengths); err != nil {
		t.Fatalf("EnsureVideoMetadata (re-run) failed: %v", err)
	}
	if _, stored, err = s.GetSolvedFrames(ctx, videoID); err != nil || len(stored) != 0 {
		t.Errorf("Expected frames cleared on re-registration, got %d (err %v)", len(stored), err)
	}

	if _, _, err := s.GetSolvedFrames(ctx, "nope"); err == nil {
		t.Error("Expected error for unknown video")
	}

	// Pattern characters are matched literally
	for _, prefix := range []string{"%", "_", "3f2a%"} {
		if _, _, err := s.GetSolvedFrames(ctx, prefix); err == nil {
			t.Errorf("Expected no match for %q", prefix)
		}
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
