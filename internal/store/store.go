package store

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/limblift/internal/types"
	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection holding solved sequences.
type Store struct {
	conn *pgx.Conn
}

// Video is one row of video_metadata plus frame counts.
type Video struct {
	ID        string
	Path      string
	Lengths   types.SegmentLengths
	Frames    int
	Gaps      int
	IndexedAt time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			segment_l1 DOUBLE PRECISION NOT NULL,
			segment_l2 DOUBLE PRECISION NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS solved_frames (
			video_id TEXT REFERENCES video_metadata(id) ON DELETE CASCADE,
			frame_index INT NOT NULL,
			frame_number INT NOT NULL,
			depth_base DOUBLE PRECISION NOT NULL,
			theta1 DOUBLE PRECISION NOT NULL,
			theta2 DOUBLE PRECISION NOT NULL,
			base_x DOUBLE PRECISION NOT NULL,
			base_y DOUBLE PRECISION NOT NULL,
			base_z DOUBLE PRECISION NOT NULL,
			mid_x DOUBLE PRECISION NOT NULL,
			mid_y DOUBLE PRECISION NOT NULL,
			mid_z DOUBLE PRECISION NOT NULL,
			end_x DOUBLE PRECISION NOT NULL,
			end_y DOUBLE PRECISION NOT NULL,
			end_z DOUBLE PRECISION NOT NULL,
			cost DOUBLE PRECISION NOT NULL,
			iterations INT NOT NULL,
			status TEXT NOT NULL,
			gap BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (video_id, frame_index)
		);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureVideoMetadata registers the video in the database. If it exists, it updates the timestamp.
func (s *Store) EnsureVideoMetadata(ctx context.Context, videoID, path string, lengths types.SegmentLengths) error {
	// 1. Clean up old data to ensure idempotency (prevent duplicate frames on re-solve)
	if _, err := s.conn.Exec(ctx, "DELETE FROM solved_frames WHERE video_id = $1", videoID); err != nil {
		return err
	}

	_, err := s.conn.Exec(ctx, `
		INSERT INTO video_metadata (id, path, segment_l1, segment_l2, indexed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path,
			segment_l1 = EXCLUDED.segment_l1, segment_l2 = EXCLUDED.segment_l2
	`, videoID, path, lengths.L1, lengths.L2)
	return err
}

var frameColumns = []string{
	"video_id", "frame_index", "frame_number",
	"depth_base", "theta1", "theta2",
	"base_x", "base_y", "base_z",
	"mid_x", "mid_y", "mid_z",
	"end_x", "end_y", "end_z",
	"cost", "iterations", "status", "gap",
}

// InsertSolvedFrames bulk-loads a solved sequence with COPY.
// frameNumbers maps each entry to its frame number in the source video; nil uses the index.
func (s *Store) InsertSolvedFrames(ctx context.Context, videoID string, frames []types.SolvedFrame, frameNumbers []int) (int64, error) {
	if frameNumbers != nil && len(frameNumbers) != len(frames) {
		return 0, fmt.Errorf("got %d frame numbers for %d frames", len(frameNumbers), len(frames))
	}

	return s.conn.CopyFrom(ctx, pgx.Identifier{"solved_frames"}, frameColumns,
		pgx.CopyFromSlice(len(frames), func(i int) ([]any, error) {
			f := frames[i]
			frameNo := f.Index
			if frameNumbers != nil {
				frameNo = frameNumbers[i]
			}
			j := f.Joints
			return []any{
				videoID, f.Index, frameNo,
				f.Params.DepthBase, f.Params.Theta1, f.Params.Theta2,
				j[types.Base].X, j[types.Base].Y, j[types.Base].Z,
				j[types.Mid].X, j[types.Mid].Y, j[types.Mid].Z,
				j[types.End].X, j[types.End].Y, j[types.End].Z,
				f.Cost, f.Iterations, f.Status, f.Gap,
			}, nil
		}))
}

// ListVideos returns every stored video with its frame and gap counts, newest first.
func (s *Store) ListVideos(ctx context.Context) ([]Video, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT v.id, v.path, v.segment_l1, v.segment_l2, v.indexed_at,
			COUNT(f.frame_index), COUNT(f.frame_index) FILTER (WHERE f.gap)
		FROM video_metadata v
		LEFT JOIN solved_frames f ON f.video_id = v.id
		GROUP BY v.id
		ORDER BY v.indexed_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []Video
	for rows.Next() {
		var v Video
		if err := rows.Scan(&v.ID, &v.Path, &v.Lengths.L1, &v.Lengths.L2, &v.IndexedAt, &v.Frames, &v.Gaps); err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

// StoredFrame is a solved frame read back from the database.
type StoredFrame struct {
	FrameNumber int
	types.SolvedFrame
}

// GetSolvedFrames loads a video's frames in order. A videoID prefix is accepted
// when it is unambiguous.
func (s *Store) GetSolvedFrames(ctx context.Context, videoID string) (string, []StoredFrame, error) {
	var ids []string
	rows, err := s.conn.Query(ctx, "SELECT id FROM video_metadata WHERE starts_with(id, $1) LIMIT 2", videoID)
	if err != nil {
		return "", nil, err
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return "", nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", nil, err
	}
	switch len(ids) {
	case 0:
		return "", nil, fmt.Errorf("no video matching %q", videoID)
	case 2:
		return "", nil, fmt.Errorf("video id prefix %q is ambiguous", videoID)
	}

	frameRows, err := s.conn.Query(ctx, `
		SELECT frame_index, frame_number, depth_base, theta1, theta2,
			base_x, base_y, base_z, mid_x, mid_y, mid_z, end_x, end_y, end_z,
			cost, iterations, status, gap
		FROM solved_frames WHERE video_id = $1 ORDER BY frame_index
	`, ids[0])
	if err != nil {
		return "", nil, err
	}
	defer frameRows.Close()

	var frames []StoredFrame
	for frameRows.Next() {
		var f StoredFrame
		j := &f.Joints
		if err := frameRows.Scan(&f.Index, &f.FrameNumber,
			&f.Params.DepthBase, &f.Params.Theta1, &f.Params.Theta2,
			&j[types.Base].X, &j[types.Base].Y, &j[types.Base].Z,
			&j[types.Mid].X, &j[types.Mid].Y, &j[types.Mid].Z,
			&j[types.End].X, &j[types.End].Y, &j[types.End].Z,
			&f.Cost, &f.Iterations, &f.Status, &f.Gap); err != nil {
			return "", nil, err
		}
		frames = append(frames, f)
	}
	return ids[0], frames, frameRows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS solved_frames CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}
