package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/checkmates/internal/types"
	"github.com/andresmejia3/checkmates/internal/utils" // Using the SafeCommand wrapper
)

// ErrBroken is returned by a worker whose pipe protocol is out of sync after a
// failed call. The pool replaces such workers.
var ErrBroken = errors.New("worker protocol out of sync")

const (
	statusOK    = 0
	statusError = 1

	// maxResponse bounds the length header to catch garbage on the pipe
	maxResponse = 256 * 1024 * 1024
)

// Config describes how to launch the Python face model.
type Config struct {
	Python      string        // interpreter, e.g. python3
	Script      string        // worker script path
	Dim         int           // embedding dimension the model emits
	ReadTimeout time.Duration // per-image deadline, 0 disables
}

// PythonWorker is one long-lived model process. Calls are serialized.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	dim     int
	timeout time.Duration

	mu     sync.Mutex
	broken bool
}

func NewPythonWorker(id int, cfg Config) (*PythonWorker, error) {
	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(cfg.Python, "-u", cfg.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		dim:      cfg.Dim,
		timeout:  cfg.ReadTimeout,
	}, nil
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Communicate sends one length-prefixed request and reads one length-prefixed response.
func (w *PythonWorker) Communicate(ctx context.Context, data []byte) ([]byte, error) {
	if w.broken {
		return nil, ErrBroken
	}

	// Unblock the read on timeout or cancellation. Pipes from os.Pipe support deadlines.
	if dl, ok := w.DataPipe.(readDeadliner); ok {
		if w.timeout > 0 {
			dl.SetReadDeadline(time.Now().Add(w.timeout))
		}
		stop := context.AfterFunc(ctx, func() { dl.SetReadDeadline(time.Now()) })
		defer func() {
			stop()
			dl.SetReadDeadline(time.Time{})
		}()
	}

	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		w.broken = true
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		w.broken = true
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		w.broken = true
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		w.broken = true
		return nil, fmt.Errorf("worker %d response too large: %d bytes", w.ID, respLen)
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		w.broken = true
		return nil, err
	}
	return respBody, nil
}

// DetectFaces sends one image and decodes every face the model found.
// Protocol: [Status:0] [NumFaces] ([Box] [Vec] [Qual] [ImgLen] [Img])...
// or [Status:1] [MsgLen] [Msg].
func (w *PythonWorker) DetectFaces(ctx context.Context, image []byte) ([]types.FaceResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	resp, err := w.Communicate(ctx, image)
	if err != nil {
		return nil, err
	}
	return decodeFaces(resp, w.dim)
}

func decodeFaces(resp []byte, dim int) ([]types.FaceResult, error) {
	r := bytes.NewReader(resp)

	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker response: %w", err)
	}

	if status == statusError {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		if int64(msgLen) > int64(r.Len()) {
			return nil, fmt.Errorf("malformed worker error: message length %d exceeds payload", msgLen)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	}
	if status != statusOK {
		return nil, fmt.Errorf("unknown worker status %d", status)
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("malformed face count: %w", err)
	}

	// Every face needs at least a box, a vector, a quality and a thumbnail length
	minRecordLen := uint64(16 + 4*dim + 4 + 4)
	if uint64(n)*minRecordLen > uint64(r.Len()) {
		return nil, fmt.Errorf("face count %d exceeds payload of %d bytes", n, r.Len())
	}

	faces := make([]types.FaceResult, 0, n)
	vec32 := make([]float32, dim)
	for i := uint32(0); i < n; i++ {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("face %d box: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, vec32); err != nil {
			return nil, fmt.Errorf("face %d vector: %w", i, err)
		}
		var quality float32
		if err := binary.Read(r, binary.BigEndian, &quality); err != nil {
			return nil, fmt.Errorf("face %d quality: %w", i, err)
		}
		var imgLen uint32
		if err := binary.Read(r, binary.BigEndian, &imgLen); err != nil {
			return nil, fmt.Errorf("face %d thumbnail length: %w", i, err)
		}
		if int64(imgLen) > int64(r.Len()) {
			return nil, fmt.Errorf("face %d thumbnail truncated", i)
		}
		thumb := make([]byte, imgLen)
		if _, err := io.ReadFull(r, thumb); err != nil {
			return nil, fmt.Errorf("face %d thumbnail: %w", i, err)
		}

		vec := make([]float64, dim)
		for j, v := range vec32 {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return nil, fmt.Errorf("face %d vector contains non-finite values", i)
			}
			vec[j] = float64(v)
		}
		faces = append(faces, types.FaceResult{
			Loc:     []int{int(box[0]), int(box[1]), int(box[2]), int(box[3])},
			Vec:     vec,
			Quality: float64(quality),
			Thumb:   thumb,
		})
	}
	return faces, nil
}

// Broken reports whether the worker must be replaced.
func (w *PythonWorker) Broken() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.broken
}

func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		// A broken worker may be stuck mid-inference and never see EOF
		if w.broken && w.Cmd.Process != nil {
			w.Cmd.Process.Kill()
		}
		w.Cmd.Wait()
	}
}
