package transformation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

// FFmpeg shells out to an ffmpeg binary. It is slow and external, so it only
// backs the two seams Native cannot cover itself: AVIF encoding and the
// JPEG intermediate for quirk sources.
type FFmpeg struct {
	path string
	log  *zap.Logger
}

func NewFFmpeg(path string, log *zap.Logger) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FFmpeg{path: path, log: log}
}

// Available checks if the binary is on PATH.
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.path)
	return err == nil
}

// Encode writes img as AVIF. The muxer needs a seekable output, so the
// result goes through a temp file in scratchDir.
func (f *FFmpeg) Encode(ctx context.Context, img image.Image, quality int, scratchDir string) ([]byte, error) {
	out, err := os.CreateTemp(scratchDir, "encode-*.avif")
	if err != nil {
		return nil, fmt.Errorf("create avif output: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	r, w := io.Pipe()
	encodeErr := make(chan error, 1)
	go func() {
		err := png.Encode(w, img)
		w.CloseWithError(err)
		encodeErr <- err
	}()

	_, runErr := f.run(ctx, r,
		"-f", "image2pipe", "-c:v", "png", "-i", "pipe:0",
		"-c:v", "libsvtav1", "-crf", strconv.Itoa(avifCRF(quality)), "-preset", "8",
		"-pix_fmt", "yuv420p", "-frames:v", "1", "-y", outPath)
	r.Close()
	if err := <-encodeErr; err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return nil, fmt.Errorf("failed to pipe png to ffmpeg: %w", err)
	}
	if runErr != nil {
		return nil, runErr
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read avif output: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("ffmpeg produced an empty avif file")
	}
	return data, nil
}

// FromFile decodes the file at path and returns a JPEG at IntermediateQuality.
func (f *FFmpeg) FromFile(ctx context.Context, path string) ([]byte, error) {
	return f.toJPEG(ctx, nil, path)
}

// FromBuffer is FromFile fed through stdin.
func (f *FFmpeg) FromBuffer(ctx context.Context, data []byte) ([]byte, error) {
	return f.toJPEG(ctx, bytes.NewReader(data), "pipe:0")
}

func (f *FFmpeg) toJPEG(ctx context.Context, stdin io.Reader, input string) ([]byte, error) {
	out, err := f.run(ctx, stdin,
		"-i", input, "-frames:v", "1",
		"-c:v", "mjpeg", "-q:v", strconv.Itoa(mjpegScale(IntermediateQuality)),
		"-f", "image2pipe", "pipe:1")
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("ffmpeg produced no intermediate output")
	}
	return out, nil
}

func (f *FFmpeg) run(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error) {
	args = append([]string{"-hide_banner", "-loglevel", "error"}, args...)
	cmd := exec.CommandContext(ctx, f.path, args...)
	cmd.Stdin = stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	f.log.Debug("running ffmpeg", zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

// avifCRF maps quality 1-100 onto the 63-0 CRF scale of libsvtav1.
func avifCRF(quality int) int {
	q := min(max(quality, 1), 100)
	return 63 - (q*63)/100
}

// mjpegScale maps quality 1-100 onto ffmpeg's 31-2 qscale (lower is better).
func mjpegScale(quality int) int {
	q := min(max(quality, 1), 100)
	return 31 - (q*29)/100
}
