package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/upstream"
)

func TestBuildQuery(t *testing.T) {
	assert.Equal(t, "Acme Corp, Santiago, Chile", BuildQuery("Acme Corp", "Santiago", "Chile"))
	assert.Equal(t, "Acme Corp", BuildQuery("Acme Corp", "", ""))
	assert.Equal(t, "Acme Corp, Chile", BuildQuery("Acme Corp", " ", "Chile"))
}

func TestSearchText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.addressComponents")
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "Acme Corp, Santiago, Chile", in["textQuery"])
		fmt.Fprint(w, `{"places":[{"id":"ChIJ1","displayName":{"text":"Acme"},"internationalPhoneNumber":"+56 2 1234 5678","location":{"latitude":-33.4,"longitude":-70.6}}]}`)
	}))
	defer srv.Close()

	p, err := New(srv.Client(), "key").WithBaseURL(srv.URL).SearchText(context.Background(), "Acme Corp, Santiago, Chile")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "ChIJ1", p.ID)
	assert.Equal(t, "Acme", p.Name())
	assert.Equal(t, "+56 2 1234 5678", p.Phone())
	assert.Equal(t, "-33.4,-70.6", p.LatLong())
}

func TestSearchTextNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	p, err := New(srv.Client(), "key").WithBaseURL(srv.URL).SearchText(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()
	c := New(srv.Client(), "key").WithBaseURL(srv.URL)

	_, err := c.SearchText(context.Background(), "x")
	assert.True(t, upstream.IsRateLimit(err))

	status = http.StatusNotFound
	p, err := c.Get(context.Background(), "ChIJ1")
	require.NoError(t, err)
	assert.Nil(t, p)

	status = http.StatusForbidden
	_, err = c.Get(context.Background(), "ChIJ1")
	assert.Equal(t, 403, upstream.StatusCode(err))
}

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/places/ChIJ1", r.URL.Path)
		assert.NotContains(t, r.Header.Get("X-Goog-FieldMask"), "places.")
		fmt.Fprint(w, `{"id":"ChIJ1","websiteUri":"https://acme.cl"}`)
	}))
	defer srv.Close()

	p, err := New(srv.Client(), "key").WithBaseURL(srv.URL).Get(context.Background(), "ChIJ1")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.cl", p.WebsiteURI)
	assert.Empty(t, p.LatLong())
}
