package session

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Exchange is one recorded command and the lines it printed.
type Exchange struct {
	Command string   `yaml:"command"`
	Output  []string `yaml:"output"`
}

// Transcript is a recorded debugging session.
type Transcript struct {
	Commands []Exchange `yaml:"commands"`
}

// LoadTranscript reads a YAML transcript from path.
func LoadTranscript(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return ParseTranscript(data)
}

// ParseTranscript decodes a YAML transcript.
func ParseTranscript(data []byte) (*Transcript, error) {
	var t Transcript
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	return &t, nil
}

// Save writes the transcript to path as YAML.
func (t *Transcript) Save(path string) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Replay answers commands from a transcript.
//
// Commands are matched exactly after trimming surrounding space. When a
// command was recorded more than once its answers are replayed in order,
// and the last one repeats once they run out.
type Replay struct {
	mu      sync.Mutex
	answers map[string][][]string
	served  map[string]int
}

// NewReplay creates a Replay over t.
func NewReplay(t *Transcript) *Replay {
	r := &Replay{
		answers: make(map[string][][]string),
		served:  make(map[string]int),
	}
	if t != nil {
		for _, ex := range t.Commands {
			key := strings.TrimSpace(ex.Command)
			r.answers[key] = append(r.answers[key], ex.Output)
		}
	}
	return r
}

// HandleCommand writes the recorded output of command.
func (r *Replay) HandleCommand(command string, out io.Writer) error {
	r.mu.Lock()
	key := strings.TrimSpace(command)
	answers, ok := r.answers[key]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNoRecording, key)
	}
	i := r.served[key]
	if i >= len(answers) {
		i = len(answers) - 1
	}
	r.served[key]++
	lines := answers[i]
	r.mu.Unlock()

	for _, line := range lines {
		if _, err := io.WriteString(out, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// Recorder passes commands through to another session and keeps a
// transcript of every successful exchange.
type Recorder struct {
	inner Session

	mu         sync.Mutex
	transcript Transcript
}

// NewRecorder wraps inner.
func NewRecorder(inner Session) *Recorder {
	return &Recorder{inner: inner}
}

// HandleCommand runs command on the wrapped session, teeing its output.
func (r *Recorder) HandleCommand(command string, out io.Writer) error {
	var buf bytes.Buffer
	if err := r.inner.HandleCommand(command, io.MultiWriter(out, &buf)); err != nil {
		return err
	}

	output := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if buf.Len() == 0 {
		output = []string{}
	}

	r.mu.Lock()
	r.transcript.Commands = append(r.transcript.Commands, Exchange{Command: command, Output: output})
	r.mu.Unlock()
	return nil
}

// Transcript returns a copy of what has been recorded so far.
func (r *Recorder) Transcript() *Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &Transcript{Commands: make([]Exchange, len(r.transcript.Commands))}
	copy(t.Commands, r.transcript.Commands)
	return t
}

// Save writes the recorded transcript to path.
func (r *Recorder) Save(path string) error {
	return r.Transcript().Save(path)
}

// Close closes the wrapped session if it can be closed.
func (r *Recorder) Close() error {
	if c, ok := r.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
