package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgate/internal/domain"
)

func server(id string, keywords ...string) domain.ServerDescriptor {
	return domain.ServerDescriptor{
		ServerID:        id,
		Transport:       domain.TransportProcess,
		Command:         []string{"true"},
		RoutingKeywords: keywords,
	}
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := New(Options{})

	require.NoError(t, r.Add(server("apollo", "astronaut")))
	require.NoError(t, r.Add(server("browser", "screenshot")))
	assert.Equal(t, 2, r.Len())

	got, err := r.Get("apollo")
	require.NoError(t, err)
	assert.Equal(t, "apollo", got.ServerID)

	_, err = r.Get("nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownServer)

	assert.True(t, r.Remove("apollo"))
	assert.False(t, r.Remove("apollo"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryAddValidates(t *testing.T) {
	r := New(Options{})

	err := r.Add(domain.ServerDescriptor{Transport: domain.TransportProcess})
	require.Error(t, err)

	err = r.Add(domain.ServerDescriptor{ServerID: "x", Transport: "carrier-pigeon"})
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeInvalidArgument, code)
}

func TestRegistryUpdateKeepsOrder(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.Add(server("a", "one")))
	require.NoError(t, r.Add(server("b", "two")))

	updated := server("a", "one", "uno")
	updated.DisplayName = "A"
	require.NoError(t, r.Add(updated))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ServerID)
	assert.Equal(t, "A", list[0].DisplayName)
	assert.Equal(t, "b", list[1].ServerID)
}

func TestRegistryReplace(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.Add(server("old", "stale")))

	require.NoError(t, r.Replace([]domain.ServerDescriptor{
		server("n1", "alpha"),
		server("n2", "beta"),
	}))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "n1", list[0].ServerID)

	err := r.Replace([]domain.ServerDescriptor{server("dup"), server("dup")})
	require.Error(t, err)
}

func TestSelectorRoutesByKeyword(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.Add(server("apollo", "astronaut", "space")))
	require.NoError(t, r.Add(server("browser", "screenshot", "navigate")))

	tests := []struct {
		name   string
		prompt string
		want   string
	}{
		{name: "space question", prompt: "Who are the astronauts in space?", want: "apollo"},
		{name: "browser task", prompt: "Take a screenshot of example.com", want: "browser"},
		{name: "no match falls back to first registered", prompt: "What's the weather?", want: "apollo"},
		{name: "case insensitive", prompt: "NAVIGATE to the docs", want: "browser"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Select(tt.prompt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ServerID)
		})
	}
}

func TestSelectorHighestScoreWins(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.Add(server("generic", "data")))
	require.NoError(t, r.Add(server("specialist", "data", "chart", "plot")))

	got, err := r.Select("plot a chart of the data")
	require.NoError(t, err)
	assert.Equal(t, "specialist", got.ServerID)
}

func TestSelectorTieBreaksByRegistrationOrder(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.Add(server("first", "report")))
	require.NoError(t, r.Add(server("second", "report")))

	got, err := r.Select("build the report")
	require.NoError(t, err)
	assert.Equal(t, "first", got.ServerID)
}

func TestSelectorConfiguredDefault(t *testing.T) {
	r := New(Options{DefaultServer: "fallback"})
	require.NoError(t, r.Add(server("apollo", "space")))
	require.NoError(t, r.Add(server("fallback")))

	got, err := r.Select("nothing relevant here")
	require.NoError(t, err)
	assert.Equal(t, "fallback", got.ServerID)
}

func TestSelectorEmptyRegistry(t *testing.T) {
	r := New(Options{})
	_, err := r.Select("anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownServer)
}
