package bridge

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopHandler(context.Context, Args, Progress) (Payload, error) {
	return Payload{"message": "ok"}, nil
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "create_task", Kind: KindTool, Handler: nopHandler,
		Schema: Schema{Fields: []Field{StringField("title", Required())}}}))
	require.NoError(t, r.Register(Descriptor{Name: "task_get", Kind: KindResource, URI: "task://get/{id}",
		Handler: nopHandler, Schema: Schema{Fields: []Field{IntegerField("id", Required())}}}))
	require.NoError(t, r.Register(Descriptor{Name: "task_list", Kind: KindResource, URI: "task://list", Handler: nopHandler}))
	require.NoError(t, r.Register(Descriptor{Name: "daily_standup", Kind: KindPrompt, Handler: nopHandler}))
	require.NoError(t, r.Register(Descriptor{Name: "search_tasks", Kind: KindTool, Handler: nopHandler, ReadOnly: true}))
	return r
}

func names(seq func(func(Descriptor) bool)) []string {
	var out []string
	for d := range seq {
		out = append(out, d.Name)
	}
	return out
}

func TestRegistryListOrderAndFilter(t *testing.T) {
	assert := assert.New(t)
	r := testRegistry(t)

	assert.Equal([]string{"create_task", "task_get", "task_list", "daily_standup", "search_tasks"}, names(r.List()))
	assert.Equal([]string{"create_task", "search_tasks"}, names(r.List(KindTool)))
	assert.Equal([]string{"task_get", "task_list", "daily_standup"}, names(r.List(KindResource, KindPrompt)))

	// the sequence is restartable
	seq := r.List(KindTool)
	assert.Equal(names(seq), names(seq))
	assert.Equal(5, r.Len())
}

func TestRegistryCompleteness(t *testing.T) {
	r := testRegistry(t)
	for d := range r.List() {
		got, err := r.Get(d.Name)
		require.NoError(t, err)
		assert.Equal(t, d.Name, got.Name)
	}
}

func TestRegistryErrors(t *testing.T) {
	r := testRegistry(t)

	err := r.Register(Descriptor{Name: "create_task", Kind: KindTool, Handler: nopHandler})
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = r.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownOperation)

	bad := []struct {
		name string
		desc Descriptor
	}{
		{"empty name", Descriptor{Kind: KindTool, Handler: nopHandler}},
		{"nil handler", Descriptor{Name: "x", Kind: KindTool}},
		{"bad kind", Descriptor{Name: "x", Kind: "widget", Handler: nopHandler}},
		{"resource without uri", Descriptor{Name: "x", Kind: KindResource, Handler: nopHandler}},
		{"duplicate field", Descriptor{Name: "x", Kind: KindTool, Handler: nopHandler,
			Schema: Schema{Fields: []Field{StringField("a"), StringField("a")}}}},
		{"enum on integer", Descriptor{Name: "x", Kind: KindTool, Handler: nopHandler,
			Schema: Schema{Fields: []Field{IntegerField("a", OneOf("1"))}}}},
		{"array without items", Descriptor{Name: "x", Kind: KindTool, Handler: nopHandler,
			Schema: Schema{Fields: []Field{{Name: "a", Type: TypeArray}}}}},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, r.Register(tc.desc))
		})
	}
	assert.Equal(t, 5, r.Len())
}

func TestRegistryStoresCopies(t *testing.T) {
	r := NewRegistry()
	fields := []Field{StringField("status", OneOf("pending", "completed"))}
	require.NoError(t, r.Register(Descriptor{Name: "x", Kind: KindTool, Handler: nopHandler, Schema: Schema{Fields: fields}}))

	fields[0].Name = "mutated"
	fields[0].Enum[0] = "mutated"

	d, err := r.Get("x")
	require.NoError(t, err)
	assert.Equal(t, "status", d.Schema.Fields[0].Name)
	assert.True(t, slices.Contains(d.Schema.Fields[0].Enum, "pending"))
}

func TestRegistryHandsOutCopies(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "search_tasks", Kind: KindTool, Handler: nopHandler,
		Schema: Schema{Fields: []Field{
			IntegerField("limit", Required(), Min(1), Max(100)),
			StringField("title", MaxLength(200)),
		}}}))

	got, err := r.Get("search_tasks")
	require.NoError(t, err)
	got.Schema.Fields[0].Required = false
	*got.Schema.Fields[0].Maximum = 1
	*got.Schema.Fields[1].MaxLength = 1
	for d := range r.List() {
		d.Schema.Fields[0].Name = "mutated"
		*d.Schema.Fields[0].Minimum = 50
	}

	again, err := r.Get("search_tasks")
	require.NoError(t, err)
	limit := again.Schema.Fields[0]
	assert.Equal(t, "limit", limit.Name)
	assert.True(t, limit.Required)
	assert.Equal(t, 1.0, *limit.Minimum)
	assert.Equal(t, 100.0, *limit.Maximum)
	assert.Equal(t, 200, *again.Schema.Fields[1].MaxLength)

	env := NewDispatcher(r, nil).Invoke(context.Background(), Request{Name: "search_tasks"}, nil)
	assert.False(t, env.OK())
	assert.Equal(t, ErrValidation, env.ErrorKind)
	assert.Equal(t, "limit", env.Field)
}

func TestDescriptorMatchURI(t *testing.T) {
	assert := assert.New(t)
	r := testRegistry(t)

	get, _ := r.Get("task_get")
	assert.True(get.Templated())
	vars, ok := get.MatchURI("task://get/42")
	assert.True(ok)
	assert.Equal(map[string]string{"id": "42"}, vars)
	_, ok = get.MatchURI("task://list")
	assert.False(ok)

	list, _ := r.Get("task_list")
	assert.False(list.Templated())
	_, ok = list.MatchURI("task://list")
	assert.True(ok)

	tool, _ := r.Get("create_task")
	_, ok = tool.MatchURI("task://list")
	assert.False(ok)
}
