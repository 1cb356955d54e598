package assistant

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/chzyer/readline"
	"golang.org/x/sys/unix"

	"github.com/ScripturePalpi/palpi/internal/model"
)

// Listener produces one utterance per call. It returns io.EOF once the
// input is exhausted.
type Listener interface {
	Listen(ctx context.Context) (string, error)
	Close() error
}

type line struct {
	text string
	err  error
}

// LineListener treats every line of a reader as an utterance.
type LineListener struct {
	lines     chan line
	done      chan struct{}
	closeOnce sync.Once
}

func NewLineListener(r io.Reader) *LineListener {
	l := &LineListener{
		lines: make(chan line),
		done:  make(chan struct{}),
	}
	go l.scan(r)
	return l
}

func (l *LineListener) scan(r io.Reader) {
	defer close(l.lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case l.lines <- line{text: scanner.Text()}:
		case <-l.done:
			return
		}
	}
	err := scanner.Err()
	if err == nil {
		return
	}
	select {
	case l.lines <- line{err: err}:
	case <-l.done:
	}
}

func (l *LineListener) Listen(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-l.done:
		return "", io.EOF
	case ln, ok := <-l.lines:
		if !ok {
			return "", io.EOF
		}
		return ln.text, ln.err
	}
}

func (l *LineListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

// FIFOListener reads utterances from a named pipe. The pipe is opened for
// reading and writing so that writers may come and go without EOF.
type FIFOListener struct {
	*LineListener
	path    string
	file    *os.File
	created bool
}

func NewFIFOListener(path string) (*FIFOListener, error) {
	created := false
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := unix.Mkfifo(path, 0o600); err != nil {
			return nil, fmt.Errorf("creating fifo %s: %w", path, err)
		}
		created = true
	case err != nil:
		return nil, err
	case info.Mode()&fs.ModeNamedPipe == 0:
		return nil, fmt.Errorf("%s exists and is not a named pipe", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if created {
			_ = os.Remove(path)
		}
		return nil, fmt.Errorf("opening fifo %s: %w", path, err)
	}
	return &FIFOListener{
		LineListener: NewLineListener(f),
		path:         path,
		file:         f,
		created:      created,
	}, nil
}

func (l *FIFOListener) Path() string {
	return l.path
}

func (l *FIFOListener) Close() error {
	_ = l.LineListener.Close()
	err := l.file.Close()
	if l.created {
		err = errors.Join(err, os.Remove(l.path))
	}
	return err
}

// ConsoleListener reads utterances interactively with line editing.
type ConsoleListener struct {
	rl *readline.Instance
}

func NewConsoleListener(prompt string) (*ConsoleListener, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".palpi_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("initializing readline: %w", err)
	}
	return &ConsoleListener{rl: rl}, nil
}

func (l *ConsoleListener) Listen(_ context.Context) (string, error) {
	text, err := l.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", io.EOF
	}
	return text, err
}

func (l *ConsoleListener) Close() error {
	return l.rl.Close()
}

// DefaultFIFO is used when no input is configured and stdin is not a terminal.
func DefaultFIFO() string {
	return filepath.Join(os.TempDir(), "palpi-input")
}

// ListenerFromConfig picks the console when input is empty and stdin is a
// terminal, and a named pipe otherwise.
func ListenerFromConfig(cfg model.Assistant) (Listener, error) {
	if cfg.Input != "" {
		return NewFIFOListener(cfg.Input)
	}
	if readline.DefaultIsTerminal() {
		return NewConsoleListener("You: ")
	}
	return NewFIFOListener(DefaultFIFO())
}
