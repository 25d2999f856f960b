package srn_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tbloader/internal/services"
	"tbloader/internal/srn"
)

func newReserveServer(t *testing.T, handler http.HandlerFunc) *srn.HTTPReserver {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := srn.NewHTTPReserver(srn.HTTPConfig{
		BaseURL:           server.URL + "/srn",
		Token:             "secret",
		RequestsPerMinute: 6000,
		HTTPClient:        server.Client(),
	})
	require.NoError(t, err)
	return client
}

func TestHTTPReserverParsesReservation(t *testing.T) {
	client := newReserveServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/srn/reserve", r.URL.Path)
		assert.Equal(t, "1024", r.URL.Query().Get("n"))
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"status":"ok","begin":512,"end":1536,"id":12,"hexid":"000c"}}`))
	})

	res, err := client.Reserve(context.Background(), 1024)
	require.NoError(t, err)
	assert.Equal(t, srn.Reservation{LoaderID: 12, LoaderHexID: "000C", Begin: 512, End: 1536}, res)
}

func TestHTTPReserverRejectsFailedStatus(t *testing.T) {
	client := newReserveServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"status":"failure"}}`))
	})
	_, err := client.Reserve(context.Background(), 512)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrExternalTool))
}

func TestHTTPReserverServerErrorIsTransient(t *testing.T) {
	client := newReserveServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
	})
	_, err := client.Reserve(context.Background(), 512)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrTransient))
	assert.Contains(t, err.Error(), "database unavailable")
}

func TestNewHTTPReserverRequiresURL(t *testing.T) {
	_, err := srn.NewHTTPReserver(srn.HTTPConfig{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrConfiguration))
}
