// Package utils provides shared helpers for the tandem CLI.
package utils

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// LogInterceptor implements io.Writer and prefixes each complete line
// with a sequence number and timestamp before forwarding it.
type LogInterceptor struct {
	target   io.Writer
	seq      atomic.Uint64
	buf      *bytes.Buffer
	remained *bufio.Reader
}

// NewLogInterceptor wraps target so every line written through it carries
// a monotonically increasing line number and an RFC3339 timestamp.
func NewLogInterceptor(target io.Writer) *LogInterceptor {
	buf := &bytes.Buffer{}
	return &LogInterceptor{
		target:   target,
		buf:      buf,
		remained: bufio.NewReader(buf),
	}
}

func (i *LogInterceptor) writeFormattedLine(line []byte) (int, error) {
	lineNum := i.seq.Add(1)
	totalWritten := 0

	prefix := slog.Uint64("line", lineNum).String() + " " +
		slog.String("time", time.Now().Format(time.RFC3339)).String() + " "
	n, err := io.WriteString(i.target, prefix)
	totalWritten += n
	if err != nil {
		return totalWritten, err
	}

	n, err = i.target.Write(line)
	totalWritten += n
	if err != nil {
		return totalWritten, err
	}

	n, err = io.WriteString(i.target, "\n")
	totalWritten += n
	return totalWritten, err
}

// Write implements io.Writer. Input is buffered until complete lines are
// available, then each line is forwarded with its prefix.
func (i *LogInterceptor) Write(p []byte) (n int, err error) {
	if _, err = i.buf.Write(p); err != nil {
		return 0, err
	}

	totalWritten := 0
	scanner := bufio.NewScanner(i.buf)
	scanner.Split(bufio.ScanLines)
	for scanner.Scan() {
		n, err = i.writeFormattedLine(scanner.Bytes())
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}
	}

	return totalWritten, nil
}

// Close flushes any trailing partial line to the target writer.
func (i *LogInterceptor) Close() error {
	remaining, err := io.ReadAll(i.remained)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		_, err = i.writeFormattedLine(remaining)
	}
	return err
}
