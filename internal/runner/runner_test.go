package runner

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oatty/internal/registry"
	"oatty/internal/workflow"
)

func TestSplitRunID(t *testing.T) {
	group, name, err := SplitRunID("apps apps:list")
	require.NoError(t, err)
	assert.Equal(t, "apps", group)
	assert.Equal(t, "apps:list", name)

	_, _, err = SplitRunID("nospace")
	assert.ErrorIs(t, err, ErrMalformedRunID)
}

func TestEchoRunner(t *testing.T) {
	out, err := EchoRunner{}.Run(context.Background(), "g n", map[string]json.RawMessage{"a": json.RawMessage(`1`)}, json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	var decoded echoPayload
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "g n", decoded.Run)
}

func TestHTTPRunner_GetWithPathAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/apps/42", r.URL.Path)
		assert.Equal(t, "bar", r.URL.Query().Get("foo"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	reg := registry.New()
	require.NoError(t, reg.InsertCatalog(workflow.Catalog{
		Title:    "t",
		BaseURLs: []string{srv.URL},
		Enabled:  true,
	}, []workflow.CommandSpec{
		{
			Group: "apps",
			Name:  "get",
			Execution: workflow.Execution{
				Kind:         workflow.ExecutionHTTP,
				Method:       "GET",
				PathTemplate: "/apps/{id}",
			},
		},
	}))

	r := NewHTTPRunner(reg)
	out, err := r.Run(context.Background(), "apps get", map[string]json.RawMessage{
		"id":  json.RawMessage(`"42"`),
		"foo": json.RawMessage(`"bar"`),
	}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
}

func TestHTTPRunner_PostBuildsBodyFromRemainingArgs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"widget","count":3}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"created":true}`))
	}))
	defer srv.Close()

	reg := registry.New()
	require.NoError(t, reg.InsertCatalog(workflow.Catalog{
		Title:    "t",
		BaseURLs: []string{srv.URL},
		Enabled:  true,
	}, []workflow.CommandSpec{
		{
			Group: "apps",
			Name:  "create",
			Execution: workflow.Execution{
				Kind:         workflow.ExecutionHTTP,
				Method:       "POST",
				PathTemplate: "/apps",
			},
		},
	}))

	r := NewHTTPRunner(reg)
	out, err := r.Run(context.Background(), "apps create", map[string]json.RawMessage{
		"name":  json.RawMessage(`"widget"`),
		"count": json.RawMessage(`3`),
	}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"created":true}`, string(out))
}

func TestHTTPRunner_ToolServerCommandErrors(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.InsertCatalog(workflow.Catalog{Title: "t", Enabled: true}, []workflow.CommandSpec{
		{Group: "g", Name: "n", Execution: workflow.Execution{Kind: workflow.ExecutionToolServer, PluginName: "p", ToolName: "t"}},
	}))
	r := NewHTTPRunner(reg)
	_, err := r.Run(context.Background(), "g n", nil, nil)
	assert.ErrorIs(t, err, ErrToolServerInHTTPContext)
}
