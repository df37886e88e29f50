package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/autobrancher/reference"
)

const rootPOST = `{"method":"POST","commandName":"cpassCallback","url":"/a/b","steps":["@TABLE.step.st_a"]}`

func newTestEngine(store *memStore) *Engine {
	logger, _ := captureLogger()
	return NewEngine(store, DefaultOptions(), logger)
}

func TestBuildProtocolFirst(t *testing.T) {
	store := newMemStore().
		put("step", "st_a", `{"st_a":{"next":"@TABLE.step.st_b"}}`).
		put("step", "st_b", `{"st_b":{}}`)

	set, err := newTestEngine(store).Build(context.Background(), []byte(rootPOST))
	require.NoError(t, err)

	entries := set.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, KindProtocol, entries[0].Kind)
	assert.Equal(t, "protocol/pt_POST_cpassCallback.json", entries[0].Path())
	assert.Equal(t, []string{
		"protocol/pt_POST_cpassCallback.json",
		"step/st_a.json",
		"step/st_b.json",
	}, keys(set))

	protocol, ok := set.Protocol()
	require.True(t, ok)
	assert.JSONEq(t, rootPOST, string(protocol.Content))
}

func TestBuildDeduplicates(t *testing.T) {
	// A references B directly and through C.
	store := newMemStore().
		put("step", "st_a", `{"st_a":{"x":"@TABLE.step.st_b","y":"@TABLE.step.st_c","z":"@TABLE.step.st_b"}}`).
		put("step", "st_b", `{"st_b":{}}`).
		put("step", "st_c", `{"st_c":{"b":"@TABLE.step.st_b"}}`)

	set, err := newTestEngine(store).Build(context.Background(), []byte(rootPOST))
	require.NoError(t, err)

	count := 0
	for _, e := range set.Entries() {
		if e.Collection == "step" && e.Name == "st_b" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, store.loads["step/st_b"])
	assert.Equal(t, 4, set.Len())
}

func TestBuildTerminatesOnCycles(t *testing.T) {
	store := newMemStore().
		put("step", "st_a", `{"st_a":{"next":"@TABLE.step.st_b"}}`).
		put("step", "st_b", `{"st_b":{"back":"@TABLE.step.st_a"}}`)

	set, err := newTestEngine(store).Build(context.Background(), []byte(rootPOST))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"protocol/pt_POST_cpassCallback.json",
		"step/st_a.json",
		"step/st_b.json",
	}, keys(set))
	assert.Equal(t, 1, store.loads["step/st_a"])
	assert.Equal(t, 1, store.loads["step/st_b"])
}

func TestBuildSelfReference(t *testing.T) {
	root := `{"method":"GET","commandName":"self","self":"@TABLE.protocol.pt_GET_self"}`
	set, err := newTestEngine(newMemStore()).Build(context.Background(), []byte(root))
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
	assert.Empty(t, set.Misses())
}

func TestBuildMissingReferences(t *testing.T) {
	store := newMemStore().
		put("step", "st_a", `{"st_a":{"gone":"@TABLE.step.st_gone","ok":"@TABLE.step.st_b"}}`).
		put("step", "st_b", `{"st_b":{"again":"@TABLE.step.st_gone"}}`)

	logger, buf := captureLogger()
	recorder := newCountingRecorder()
	engine := NewEngine(store, DefaultOptions(), logger).WithRecorder(recorder)

	set, err := engine.Build(context.Background(), []byte(rootPOST))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"protocol/pt_POST_cpassCallback.json",
		"step/st_a.json",
		"step/st_b.json",
	}, keys(set))

	misses := set.Misses()
	require.Len(t, misses, 1)
	assert.Equal(t, "step", misses[0].Collection)
	assert.Equal(t, "st_gone", misses[0].Document)
	assert.Equal(t, 1, countLines(buf, "document=st_gone"))
	assert.Equal(t, 1, recorder.missing["step"])
	assert.Equal(t, 1, store.loads["step/st_gone"])
}

func TestBuildInvalidRoot(t *testing.T) {
	tests := []struct {
		name string
		root string
	}{
		{name: "not json", root: `{"method":`},
		{name: "array", root: `[1,2]`},
		{name: "null", root: `null`},
		{name: "string", root: `"x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := newTestEngine(newMemStore()).Build(context.Background(), []byte(tt.root))
			require.Error(t, err)
			assert.Nil(t, set)
			assert.True(t, errors.Is(err, ErrInvalidRoot))

			var rootErr *RootError
			assert.True(t, errors.As(err, &rootErr))
		})
	}
}

func TestBuildMalformedDocument(t *testing.T) {
	store := newMemStore().
		put("step", "st_a", `not json but mentions @TABLE.step.st_b here`).
		put("step", "st_b", `{"st_b":{}}`)

	recorder := newCountingRecorder()
	engine := newTestEngine(store).WithRecorder(recorder)

	set, err := engine.Build(context.Background(), []byte(rootPOST))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"protocol/pt_POST_cpassCallback.json",
		"step/st_a.json",
		"step/st_b.json",
	}, keys(set))
	a, ok := set.Get("step", "st_a")
	require.True(t, ok)
	assert.Nil(t, a.Value)
	assert.Equal(t, 1, recorder.malformed["step"])
}

func TestBuildLooseMode(t *testing.T) {
	root := `{"method":"GET","commandName":"loose","x":"@TABLE.step.st_a.field @TABLE.step.st_b"}`
	store := newMemStore().
		put("step", "st_a", `{"st_a":{}}`).
		put("step", "st_b", `{"st_b":{}}`)

	t.Run("strict finds both", func(t *testing.T) {
		set, err := newTestEngine(store).Build(context.Background(), []byte(root))
		require.NoError(t, err)
		assert.Equal(t, 3, set.Len())
	})

	t.Run("loose swallows the second token", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Mode = reference.ModeLoose
		logger, _ := captureLogger()
		set, err := NewEngine(store, opts, logger).Build(context.Background(), []byte(root))
		require.NoError(t, err)
		assert.Equal(t, []string{
			"protocol/pt_GET_loose.json",
			"step/st_a.json",
		}, keys(set))
	})
}

func TestBuildCancelledContext(t *testing.T) {
	store := newMemStore().put("step", "st_a", `{"st_a":{}}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	set, err := newTestEngine(store).Build(ctx, []byte(rootPOST))
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
	require.Len(t, set.Misses(), 1)
	assert.ErrorIs(t, set.Misses()[0].Err, context.Canceled)
	assert.Zero(t, store.loads["step/st_a"])
}

func TestBuildIndependentRuns(t *testing.T) {
	store := newMemStore().
		put("step", "st_a", `{"st_a":{}}`)
	engine := newTestEngine(store)

	first, err := engine.Build(context.Background(), []byte(rootPOST))
	require.NoError(t, err)
	second, err := engine.Build(context.Background(), []byte(`{"method":"GET","commandName":"other","s":"@TABLE.step.st_a"}`))
	require.NoError(t, err)

	assert.Equal(t, 2, first.Len())
	assert.Equal(t, []string{"protocol/pt_GET_other.json", "step/st_a.json"}, keys(second))
	assert.Equal(t, 2, store.loads["step/st_a"])
}

func TestBuildEndToEnd(t *testing.T) {
	store := newMemStore().
		put("resource_profile", "rp_one",
			`{"uri":"/a/b","resource":"cpass","authenNode":"node1","authenType":"basic"}`)

	root := `{"method":"POST","commandName":"cpassCallback","url":"/a/b"}`
	set, err := newTestEngine(store).Build(context.Background(), []byte(root))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"protocol/pt_POST_cpassCallback.json",
		"resource_profile/cpass_node1-basic.json",
	}, keys(set))
	assert.Equal(t, KindProfile, set.Entries()[1].Kind)
}

func TestSetDocuments(t *testing.T) {
	store := newMemStore().put("step", "st_a", `{"st_a":{"k":1}}`)
	set, err := newTestEngine(store).Build(context.Background(), []byte(rootPOST))
	require.NoError(t, err)

	docs := set.Documents()
	require.Len(t, docs, 2)
	assert.Equal(t, "protocol/pt_POST_cpassCallback", docs[0].String())
	assert.Equal(t, `{"st_a":{"k":1}}`, string(docs[1].Content))
}

func TestEntryFirstKey(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{content: `{"zeta":1,"alpha":2}`, want: "zeta"},
		{content: `{}`, want: ""},
		{content: `[{"a":1}]`, want: ""},
		{content: `garbage`, want: ""},
	}
	for _, tt := range tests {
		e := Entry{Content: []byte(tt.content)}
		assert.Equal(t, tt.want, e.FirstKey(), tt.content)
	}
}

func TestNewSet(t *testing.T) {
	protocol, err := NewEntry("protocol", "pt_GET_x", KindProtocol, []byte(`{"method":"GET"}`))
	require.NoError(t, err)
	step, err := NewEntry("step", "st_a", KindReference, []byte(`{"st_a":{}}`))
	require.NoError(t, err)

	set := NewSet(protocol, step, step)
	assert.Equal(t, 2, set.Len())
	got, ok := set.Protocol()
	require.True(t, ok)
	assert.Equal(t, "GET", got.Field("method"))

	_, err = NewEntry("step", "bad", KindReference, []byte(`{`))
	assert.Error(t, err)
}

func TestBuildDocumentRootCycle(t *testing.T) {
	root := `{"method":"POST","commandName":"cpassCallback","next":"@TABLE.step.st_b"}`
	store := newMemStore().
		put("protocol", "cpass", root).
		put("step", "st_b", `{"st_b":{"back":"@TABLE.protocol.cpass"}}`)

	set, err := newTestEngine(store).BuildDocument(context.Background(), "cpass", []byte(root))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"protocol/pt_POST_cpassCallback.json",
		"step/st_b.json",
	}, keys(set))
	assert.Zero(t, store.loads["protocol/cpass"])
	assert.Empty(t, set.Misses())

	// Without the store name the root is indistinguishable from any other
	// protocol document.
	set, err = newTestEngine(store).Build(context.Background(), []byte(root))
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())
}
