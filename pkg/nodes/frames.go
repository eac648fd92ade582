package nodes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/imaging"
	"github.com/wehubfusion/Daedalus/pkg/node"
	"github.com/wehubfusion/Daedalus/pkg/sequence"
)

// Frame decoders.
const (
	DecoderRaw    = "raw"
	DecoderFFmpeg = "ffmpeg"
)

const defaultFrameEstimate = 1 << 20

// frameSource reads frames until the stream ends. The number of frames is
// not known ahead of time, so it drives a run-while sequence.
type frameSource struct {
	frames *imaging.FrameReader
	// release frees the decoder. finished is false when frames may be left
	// unread.
	release func(finished bool) error
	logger  *zap.Logger

	mu   sync.Mutex
	done bool
	stop func() bool
}

// next returns frame index. The first end of data or error closes the
// source and every later call reports no more data.
func (s *frameSource) next(index int) (node.Values, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, false, nil
	}
	frame, err := s.frames.Next()
	if err == nil {
		return node.Values{frame, index}, true, nil
	}

	closeErr := s.shutdown(true)
	if errors.Is(err, io.EOF) {
		if closeErr != nil {
			return nil, false, closeErr
		}
		s.logger.Debug("frame stream drained", zap.Int("frames", index))
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("frame %d: %w", index, err)
}

func (s *frameSource) shutdown(finished bool) error {
	s.done = true
	if s.stop != nil {
		s.stop()
	}
	return s.release(finished)
}

// close releases the decoder if the stream stopped before its end.
func (s *frameSource) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	if err := s.shutdown(false); err != nil {
		s.logger.Warn("failed to release frame decoder", zap.Error(err))
	}
}

// newLoadFrames iterates over raw rgb24 frames. The raw decoder reads a
// pre-decoded file from the store, the ffmpeg decoder pipes a local video
// file through the ffmpeg binary.
func newLoadFrames(deps Deps, config node.Config) (node.Node, error) {
	decoder := config.Settings.String("decoder", DecoderRaw)
	width := config.Settings.Int("width", 0)
	height := config.Settings.Int("height", 0)
	estimate := config.Settings.Int("count", defaultFrameEstimate)
	if width < 1 || height < 1 {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "frame size %dx%d is invalid", width, height)
	}
	switch decoder {
	case DecoderRaw:
		if err := requireStore(deps, TypeLoadFrames); err != nil {
			return nil, err
		}
	case DecoderFFmpeg:
	default:
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "unknown frame decoder %q", decoder)
	}

	schema := node.Schema{
		ID:              TypeLoadFrames,
		Name:            "Load Frames",
		Kind:            node.KindNewIterator,
		Inputs:          []node.Port{{Name: "path", Optional: true}},
		Outputs:         []node.Port{{Name: "frame"}, {Name: "index"}, {Name: "path"}},
		IteratorOutputs: iterated(0, 1),
	}
	logger := deps.Logger.With(zap.String("node_id", config.ID))

	return node.NewPlain(config.ID, schema, func(ctx context.Context, inputs node.Values) (node.Values, error) {
		path := stringInput(inputs, 0, config.Settings, "path")
		if path == "" {
			return nil, derrors.Configuration(derrors.ErrInvalidArgument, "path is required")
		}

		var (
			r       io.Reader
			release func(bool) error
			err     error
		)
		if decoder == DecoderFFmpeg {
			r, release, err = startFFmpeg(ctx, deps.FFmpeg, path)
		} else {
			r, release, err = openRaw(ctx, deps, path)
		}
		if err != nil {
			return nil, err
		}

		frames, err := imaging.NewFrameReader(r, width, height)
		if err != nil {
			release(false)
			return nil, err
		}
		src := &frameSource{frames: frames, release: release, logger: logger}
		src.mu.Lock()
		src.stop = context.AfterFunc(ctx, src.close)
		src.mu.Unlock()

		stream, err := sequence.FromProbe(estimate, src.next,
			sequence.WithFailFast(true),
			sequence.WithRelease(src.close))
		if err != nil {
			src.close()
			return nil, err
		}
		return emit(stream, node.Values{path}, 0), nil
	}), nil
}

func openRaw(ctx context.Context, deps Deps, path string) (io.Reader, func(bool) error, error) {
	rc, err := deps.Store.Open(ctx, path)
	if err != nil {
		return nil, nil, derrors.Configuration(err, "failed to open %s", path)
	}
	return rc, func(bool) error { return rc.Close() }, nil
}

// startFFmpeg starts ffmpeg decoding path to raw rgb24 on stdout. The
// returned release waits for the process and reports its stderr on failure.
// An unfinished decode is killed rather than drained.
func startFFmpeg(ctx context.Context, binary, path string) (io.Reader, func(bool) error, error) {
	cmd := exec.CommandContext(ctx, binary,
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, derrors.Configuration(err, "failed to create ffmpeg pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, derrors.Configuration(err, "failed to start %s", binary)
	}

	release := func(finished bool) error {
		if !finished {
			_ = cmd.Process.Kill()
		}
		// Wait must not run before the pipe is read to its end.
		_, _ = io.Copy(io.Discard, stdout)
		if err := cmd.Wait(); err != nil {
			if !finished || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil
	}
	return stdout, release, nil
}
