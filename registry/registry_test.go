package registry_test

import (
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kramer-control/brain-client-go/controller"
	"github.com/kramer-control/brain-client-go/registry"
)

func TestGetOrCreateReturnsSameObjectForSameEndpoint(t *testing.T) {
	r := registry.New()
	a := r.GetOrCreate(registry.Literal("127.0.0.1:9000"), nil, controller.Options{})
	b := r.GetOrCreate(registry.Literal("127.0.0.1:9000"), nil, controller.Options{})
	require.Same(t, a, b)
}

func TestGetOrCreateDistinguishesEndpoints(t *testing.T) {
	r := registry.New()
	a := r.GetOrCreate(registry.Literal("127.0.0.1:9000"), nil, controller.Options{})
	b := r.GetOrCreate(registry.Literal("127.0.0.1:9001"), nil, controller.Options{})
	require.NotSame(t, a, b)
}

func TestGetOrCreateConcurrentCallsShareOneObject(t *testing.T) {
	r := registry.New()
	var wg sync.WaitGroup
	results := make([]*controller.Controller, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.GetOrCreate(registry.Literal("10.0.0.1:8000"), nil, controller.Options{})
		}(i)
	}
	wg.Wait()
	for _, c := range results {
		require.Same(t, results[0], c)
	}
}

func TestGetOrCreateAutoEndpointResolvesFromURL(t *testing.T) {
	r := registry.New()
	source, _ := url.Parse("https://app.example.com/?brain=192.168.1.50")
	c := r.GetOrCreate(registry.Auto("brain", "127.0.0.1"), source, controller.Options{})
	require.NotNil(t, c)

	again := r.GetOrCreate(registry.Auto("brain", "127.0.0.1"), source, controller.Options{})
	require.Same(t, c, again)
}

func TestGetOrCreateLiteralEndpointDefaultsPort(t *testing.T) {
	r := registry.New()
	c1 := r.GetOrCreate(registry.Literal("192.168.1.1"), nil, controller.Options{})
	c2 := r.GetOrCreate(registry.Literal("192.168.1.1:8000"), nil, controller.Options{})
	require.Same(t, c1, c2, "bare host and explicit default port must resolve to the same cache key")
}
