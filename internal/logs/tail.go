package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// pollInterval paces follow-mode reads while waiting for new lines.
const pollInterval = 200 * time.Millisecond

// TailOptions controls a Tail call. A negative Offset requests the last
// Limit lines of the file; a non-negative Offset reads forward from that
// byte position. Limit bounds the number of returned lines in both modes,
// with zero meaning unbounded for forward reads.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
}

// TailResult carries the lines read and the byte offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from the log file at path. A missing file is not an
// error; it yields an empty result with offset zero so callers can retry
// once the watchdog has created the file.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	if opts.Wait < 0 {
		opts.Wait = 0
	}

	if opts.Offset < 0 {
		result, err := tailLast(path, opts.Limit)
		if err != nil || !opts.Follow || len(result.Lines) > 0 {
			return result, err
		}
		return pollForward(ctx, path, result.Offset, opts.Limit, opts.Wait)
	}

	result, err := readForward(path, opts.Offset, opts.Limit)
	if err != nil || !opts.Follow || len(result.Lines) > 0 {
		return result, err
	}
	return pollForward(ctx, path, result.Offset, opts.Limit, opts.Wait)
}

// tailLast returns the final limit lines and the end-of-file offset.
func tailLast(path string, limit int) (TailResult, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TailResult{}, nil
		}
		return TailResult{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return TailResult{}, fmt.Errorf("seek log file: %w", err)
		}
		return TailResult{Offset: end}, nil
	}

	scanner := newLineScanner(file)
	ring := make([]string, limit)
	total := 0
	for scanner.Scan() {
		ring[total%limit] = scanner.Text()
		total++
	}
	if err := scanner.Err(); err != nil {
		return TailResult{}, fmt.Errorf("read log file: %w", err)
	}

	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return TailResult{}, fmt.Errorf("seek log file: %w", err)
	}

	count := min(total, limit)
	lines := make([]string, 0, count)
	for i := total - count; i < total; i++ {
		lines = append(lines, ring[i%limit])
	}
	return TailResult{Lines: lines, Offset: end}, nil
}

// readForward returns up to limit lines starting at the byte offset. An
// offset beyond the end of the file snaps to the end, which also covers a
// rotated file whose successor is still short.
func readForward(path string, offset int64, limit int) (TailResult, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TailResult{}, nil
		}
		return TailResult{Offset: offset}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return TailResult{Offset: offset}, fmt.Errorf("stat log file: %w", err)
	}
	if offset > info.Size() {
		offset = info.Size()
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return TailResult{Offset: offset}, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var lines []string
	next := offset
	for limit <= 0 || len(lines) < limit {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				// A partial final line stays unread until its newline lands.
				break
			}
			return TailResult{Offset: next}, fmt.Errorf("read log file: %w", err)
		}
		next += int64(len(line))
		lines = append(lines, trimLineEnding(line))
	}
	return TailResult{Lines: lines, Offset: next}, nil
}

// pollForward re-reads from offset until lines appear, the wait elapses, or
// ctx is cancelled.
func pollForward(ctx context.Context, path string, offset int64, limit int, wait time.Duration) (TailResult, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		result, err := readForward(path, offset, limit)
		if err != nil || len(result.Lines) > 0 {
			return result, err
		}
		offset = result.Offset

		if !time.Now().Before(deadline) {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}

func trimLineEnding(line string) string {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
