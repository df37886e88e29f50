package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360studio/autobrancher/resolve"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func entry(t *testing.T, collection, name string, kind resolve.Kind, content string) resolve.Entry {
	t.Helper()
	e, err := resolve.NewEntry(collection, name, kind, []byte(content))
	if err != nil && kind != resolve.KindReference {
		require.NoError(t, err)
	}
	return e
}

// sampleSet holds a protocol, a plain reference and a resource profile.
func sampleSet(t *testing.T) *resolve.Set {
	t.Helper()
	return resolve.NewSet(
		entry(t, "protocol", "pt_POST_cpassCallback", resolve.KindProtocol,
			`{"method":"POST","commandName":"cpassCallback","url":"/a/b"}`),
		entry(t, "step", "st_a", resolve.KindReference,
			`{"st_a":{"zeta":1,"alpha":2}}`),
		entry(t, "resource_profile", "cpass_node1-basic", resolve.KindProfile,
			`{"uri":"/a/b","resource":"cpass","authenNode":"node1","authenType":"basic"}`),
	)
}

// memWriter records writes in order.
type memWriter struct {
	files map[string][]byte
	order []string
	err   error
}

func newMemWriter() *memWriter {
	return &memWriter{files: make(map[string][]byte)}
}

func (w *memWriter) WriteFile(path string, data []byte) (string, error) {
	if w.err != nil {
		return "", w.err
	}
	w.files[path] = append([]byte(nil), data...)
	w.order = append(w.order, path)
	return "/root/" + path, nil
}

// fakeVCS records calls; failOn makes the named operation fail.
type fakeVCS struct {
	calls  []string
	failOn map[string]bool
	log    *[]string
}

func newFakeVCS(log *[]string) *fakeVCS {
	return &fakeVCS{failOn: make(map[string]bool), log: log}
}

func (v *fakeVCS) record(call string) error {
	v.calls = append(v.calls, call)
	if v.log != nil {
		*v.log = append(*v.log, call)
	}
	op := call
	for i, c := range call {
		if c == ' ' {
			op = call[:i]
			break
		}
	}
	if v.failOn[op] {
		return errors.New(op + " failed")
	}
	return nil
}

func (v *fakeVCS) Checkout(_ context.Context, ref string, force bool) error {
	return v.record(fmt.Sprintf("checkout %s force=%t", ref, force))
}

func (v *fakeVCS) DeleteBranch(_ context.Context, name string) error {
	return v.record("delete " + name)
}

func (v *fakeVCS) CreateBranch(_ context.Context, name string) error {
	return v.record("create " + name)
}

// orderedWriter logs writes into the same call log as fakeVCS.
type orderedWriter struct {
	*memWriter
	log *[]string
}

func (w orderedWriter) WriteFile(path string, data []byte) (string, error) {
	*w.log = append(*w.log, "write "+path)
	return w.memWriter.WriteFile(path, data)
}
