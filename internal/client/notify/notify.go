// Package notify delivers short user-facing messages, the terminal
// counterpart of toast notifications.
package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

type Notifier interface {
	Success(msg string)
	Failure(msg string)
}

// Terminal writes styled one-line notices to w.
type Terminal struct {
	mu   sync.Mutex
	w    io.Writer
	ok   lipgloss.Style
	fail lipgloss.Style
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{
		w:    w,
		ok:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		fail: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
}

func (t *Terminal) Success(msg string) {
	t.write(t.ok.Render("✔"), msg)
}

func (t *Terminal) Failure(msg string) {
	t.write(t.fail.Render("✘"), msg)
}

func (t *Terminal) write(mark, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "%s %s\n", mark, msg)
}

type Kind string

const (
	KindSuccess Kind = "success"
	KindFailure Kind = "failure"
)

type Entry struct {
	Kind    Kind
	Message string
}

// Recorder keeps every notice in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) Success(msg string) { r.add(KindSuccess, msg) }
func (r *Recorder) Failure(msg string) { r.add(KindFailure, msg) }

func (r *Recorder) add(k Kind, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Kind: k, Message: msg})
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Messages returns the recorded messages of kind k, in order.
func (r *Recorder) Messages(k Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		if e.Kind == k {
			out = append(out, e.Message)
		}
	}
	return out
}

// Nop discards notices.
type Nop struct{}

func (Nop) Success(string) {}
func (Nop) Failure(string) {}
