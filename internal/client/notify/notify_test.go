package notify

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerminal_WritesOneLinePerNotice(t *testing.T) {
	var buf bytes.Buffer
	n := NewTerminal(&buf)

	n.Success("Logged out successfully")
	n.Failure("Login failed")

	out := buf.String()
	assert.Contains(t, out, "Logged out successfully\n")
	assert.Contains(t, out, "Login failed\n")
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestRecorder(t *testing.T) {
	var r Recorder
	var n Notifier = &r

	n.Success("a")
	n.Failure("b")
	n.Success("c")

	assert.Equal(t, []string{"a", "c"}, r.Messages(KindSuccess))
	assert.Equal(t, []string{"b"}, r.Messages(KindFailure))
	assert.Equal(t, Entry{Kind: KindFailure, Message: "b"}, r.Entries()[1])
}
