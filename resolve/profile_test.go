package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func profileStore() *memStore {
	return newMemStore().
		put("resource_profile", "p1", `{"uri":"/a/b","resource":"r1","authenNode":"n1","authenType":"t1"}`).
		put("resource_profile", "p2", `{"uri":"/a/c","resource":"r2","authenNode":"n2","authenType":"t2"}`).
		put("resource_profile", "p3", `{"uri":"/x/y","resource":"r3","authenNode":"n3","authenType":"t3"}`)
}

func TestMatchPolicy(t *testing.T) {
	tests := []struct {
		name    string
		policy  MatchPolicy
		profile string
		root    string
		want    bool
	}{
		{name: "contains", policy: MatchContains, profile: "/a/b/extra", root: "/a/b", want: true},
		{name: "contains reversed", policy: MatchContains, profile: "/a/b", root: "/a/b/extra", want: false},
		{name: "contained", policy: MatchContained, profile: "/a/b", root: "/a/b/extra", want: true},
		{name: "contained reversed", policy: MatchContained, profile: "/a/b/extra", root: "/a/b", want: false},
		{name: "either forward", policy: MatchEither, profile: "/a/b/extra", root: "/a/b", want: true},
		{name: "either backward", policy: MatchEither, profile: "/a/b", root: "/a/b/extra", want: true},
		{name: "unrelated", policy: MatchEither, profile: "/a/c", root: "/a/b/extra", want: false},
		{name: "empty profile", policy: MatchEither, profile: "", root: "/a/b", want: false},
		{name: "empty root", policy: MatchEither, profile: "/a/b", root: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Matches(tt.profile, tt.root))
		})
	}
}

func TestParseMatchPolicy(t *testing.T) {
	p, err := ParseMatchPolicy("")
	require.NoError(t, err)
	assert.Equal(t, MatchEither, p)

	p, err = ParseMatchPolicy(" Contained ")
	require.NoError(t, err)
	assert.Equal(t, MatchContained, p)

	_, err = ParseMatchPolicy("prefix")
	assert.Error(t, err)
}

func TestProfileMatcherMatch(t *testing.T) {
	logger, _ := captureLogger()
	m := NewProfileMatcher(profileStore(), "resource_profile", MatchEither, logger)

	got := m.Match(context.Background(), "/a/b/extra")
	require.Len(t, got, 1)
	assert.Equal(t, "r1_n1-t1", got[0].Name)
	assert.Equal(t, "resource_profile/r1_n1-t1.json", got[0].Path())
	assert.Equal(t, KindProfile, got[0].Kind)
}

func TestProfileMatcherSkips(t *testing.T) {
	logger, _ := captureLogger()
	store := profileStore().
		put("resource_profile", "p4", `{broken`).
		put("resource_profile", "p5", `["/a/b"]`).
		put("resource_profile", "p6", `{"resource":"r6","authenNode":"n6","authenType":"t6"}`)

	m := NewProfileMatcher(store, "resource_profile", MatchEither, logger)
	got := m.Match(context.Background(), "/a/b")
	require.Len(t, got, 1)
	assert.Equal(t, "r1_n1-t1", got[0].Name)
}

func TestProfileMatcherNoCollection(t *testing.T) {
	logger, _ := captureLogger()
	m := NewProfileMatcher(newMemStore(), "resource_profile", MatchEither, logger)
	assert.Empty(t, m.Match(context.Background(), "/a/b"))
	assert.Empty(t, m.Match(context.Background(), ""))
}

func TestBuildProfilesNotTraversed(t *testing.T) {
	store := newMemStore().
		put("resource_profile", "p1", `{"uri":"/a/b","resource":"r1","authenNode":"n1","authenType":"t1","next":"@TABLE.step.st_a"}`).
		put("step", "st_a", `{"st_a":{}}`)

	set, err := newTestEngine(store).Build(context.Background(), []byte(`{"method":"GET","commandName":"c","url":"/a/b"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"protocol/pt_GET_c.json", "resource_profile/r1_n1-t1.json"}, keys(set))
	assert.Zero(t, store.loads["step/st_a"])
}
