package assets

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
	"github.com/joseph-ayodele/seedream-pipeline/internal/entity"
	"github.com/joseph-ayodele/seedream-pipeline/internal/runstore"
)

// Sink persists a generated artifact and returns where it lives.
type Sink interface {
	Store(ctx context.Context, id int64, data []byte) (entity.OutputReference, error)
}

// LocalSink writes <dir>/<id>_generated.png.
type LocalSink struct {
	dir    string
	logger *slog.Logger
}

func NewLocalSink(dir string, logger *slog.Logger) *LocalSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalSink{dir: dir, logger: logger}
}

// OutputPath is where the artifact for id is written.
func (s *LocalSink) OutputPath(id int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d_generated.png", id))
}

func (s *LocalSink) Store(_ context.Context, id int64, data []byte) (entity.OutputReference, error) {
	if len(data) == 0 {
		return entity.OutputReference{}, common.NewAppError(common.KindSink, fmt.Sprintf("empty artifact for %d", id), common.ErrInvalidInput)
	}
	path, err := filepath.Abs(s.OutputPath(id))
	if err != nil {
		return entity.OutputReference{}, common.NewAppError(common.KindSink, "resolve output path", err)
	}
	if err := runstore.WriteBytes(path, data); err != nil {
		return entity.OutputReference{}, common.NewAppError(common.KindSink, fmt.Sprintf("write artifact for %d", id), err)
	}
	s.logger.Info("assets.sink.local.ok", "record_id", id, "path", path, "size", humanize.IBytes(uint64(len(data))))
	return entity.OutputReference{LocalPath: path}, nil
}

// MultiSink stores to every sink in order and merges the references. The
// first failure stops the chain.
type MultiSink []Sink

func (m MultiSink) Store(ctx context.Context, id int64, data []byte) (entity.OutputReference, error) {
	var ref entity.OutputReference
	for _, s := range m {
		r, err := s.Store(ctx, id, data)
		if err != nil {
			if common.KindOf(err) == common.KindSink {
				return ref, err
			}
			return ref, common.NewAppError(common.KindSink, fmt.Sprintf("store artifact for %d", id), err)
		}
		if r.LocalPath != "" {
			ref.LocalPath = r.LocalPath
		}
		if r.PublicURL != "" {
			ref.PublicURL = r.PublicURL
		}
	}
	return ref, nil
}
