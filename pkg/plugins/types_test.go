package plugins

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_LaterRecordsWin(t *testing.T) {
	reg := NewRegistry(
		Record{Name: "Dup", Description: "first", Folder: "/a/dup"},
		Record{Name: "Other", Description: "other", Folder: "/a/other"},
		Record{Name: "Dup", Description: "second", Folder: "/b/dup"},
	)

	assert.Equal(t, 2, reg.Len())
	rec, ok := reg.Get("Dup")
	require.True(t, ok)
	assert.Equal(t, "second", rec.Description)
	assert.Equal(t, "/b/dup", rec.Folder)
	assert.Equal(t, []string{"Dup", "Other"}, reg.Names())
}

func TestRegistry_MapIsCopy(t *testing.T) {
	reg := NewRegistry(Record{Name: "Foo"})

	m := reg.Map()
	delete(m, "Foo")
	m["Bar"] = Record{Name: "Bar"}

	assert.True(t, reg.Has("Foo"))
	assert.False(t, reg.Has("Bar"))
}

func TestRegistry_Nil(t *testing.T) {
	var reg *Registry

	assert.Equal(t, 0, reg.Len())
	assert.False(t, reg.Has("Foo"))
	assert.Empty(t, reg.Names())
	assert.Empty(t, reg.Records())
	assert.Empty(t, reg.Map())
}

func TestRegistry_MarshalJSON(t *testing.T) {
	reg := NewRegistry(Record{
		Name:          "Foo",
		Description:   "demo",
		Folder:        "/plugins/foo",
		EnableStartup: true,
		ManifestPath:  "/plugins/foo/plugin.json",
	})

	data, err := json.Marshal(reg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"Foo": {
			"name": "Foo",
			"description": "demo",
			"folder": "/plugins/foo",
			"enable_startup": true,
			"manifest": "/plugins/foo/plugin.json"
		}
	}`, string(data))
}

func TestRegistry_Records(t *testing.T) {
	reg := NewRegistry(Record{Name: "b"}, Record{Name: "a"}, Record{Name: "c"})

	records := reg.Records()
	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].Name)
	assert.Equal(t, "b", records[1].Name)
	assert.Equal(t, "c", records[2].Name)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "undiscovered", StateUndiscovered.String())
	assert.Equal(t, "discovered", StateDiscovered.String())
	assert.Equal(t, "loaded", StateLoaded.String())
	assert.Equal(t, "unknown", State(42).String())

	data, err := json.Marshal(map[string]State{"Foo": StateLoaded})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Foo": "loaded"}`, string(data))
}

func TestState_UnmarshalText(t *testing.T) {
	var states map[string]State
	require.NoError(t, json.Unmarshal([]byte(`{"Foo":"loaded","Bar":"discovered"}`), &states))
	assert.Equal(t, map[string]State{"Foo": StateLoaded, "Bar": StateDiscovered}, states)

	var s State
	assert.Error(t, s.UnmarshalText([]byte("unknown")))
}
