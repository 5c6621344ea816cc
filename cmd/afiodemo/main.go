// Command afiodemo exercises a Dispatcher end to end: it opens a fresh
// temporary directory, creates a file inside it, writes, syncs and closes
// it, reopens it and reads the contents back, then closes and removes the
// file. The temporary directory itself is removed on exit.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"

	"github.com/nullstack-io/afio"
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("afiodemo failed", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	executor := afio.NewPoolExecutor(4)
	defer executor.Close()

	d, err := afio.NewDispatcher(executor, 0, 0, afio.WithLogger(logger), afio.WithLinuxIOUring())
	if err != nil {
		return err
	}
	defer d.Shutdown()

	root, err := os.MkdirTemp("", "afiodemo-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(root)

	target := filepath.Join(root, "greeting.txt")

	dirOp := d.Dir([]afio.PathRequest{{Path: root, Flags: afio.Read}})[0]

	fileOp := d.File([]afio.PathRequest{{
		Precondition: dirOp,
		Path:         target,
		Flags:        afio.Read | afio.Write | afio.Create | afio.AutoFlush,
	}})[0]

	payload := []byte("hello from afio\n")

	writeOp := d.Write([]afio.DataRequest{{
		Precondition: fileOp,
		Offset:       0,
		Buffers:      [][]byte{payload},
	}})[0]

	syncOp := d.Sync([]afio.Op{writeOp})[0]
	closeOp := d.Close([]afio.Op{syncOp})[0]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := closeOp.Future.Wait(ctx); err != nil {
		return err
	}

	logger.Info("wrote and closed file", "path", target, "queue_depth", d.WaitQueueDepth())

	readBuf := make([]byte, len(payload))

	reopenOp := d.File([]afio.PathRequest{{Path: target, Flags: afio.Read}})[0]

	readOp := d.Read([]afio.DataRequest{{
		Precondition: reopenOp,
		Offset:       0,
		Buffers:      [][]byte{readBuf},
	}})[0]

	if _, err := readOp.Future.Wait(ctx); err != nil {
		return err
	}

	logger.Info("read back", "content", string(readBuf))

	closeReopenOp := d.Close([]afio.Op{readOp})[0]

	removeOp := d.RmFile([]afio.PathRequest{{Precondition: closeReopenOp, Path: target}})[0]
	if _, err := removeOp.Future.Wait(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return nil
}
