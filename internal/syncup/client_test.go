package syncup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_Stream(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/results/stream", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/x-ndjson")
		for i := 0; i < got.Limit; i++ {
			fmt.Fprintf(w, `{"lookupKey":%q,"analyte":"HGB","seq":%d}`+"\n", got.LookupKey, i)
			if i == 0 {
				fmt.Fprintln(w) // blank lines are ignored
			}
		}
	}))
	defer srv.Close()

	c := NewHTTPClient("instruments", srv.URL+"/", "/v1/results/stream", time.Second)
	res, err := c.Stream(context.Background(), Request{LookupKey: "BC-1", Limit: 3})
	require.NoError(t, err)

	assert.Equal(t, Request{LookupKey: "BC-1", Limit: 3}, got)
	require.Len(t, res, 3)
	assert.JSONEq(t, `{"lookupKey":"BC-1","analyte":"HGB","seq":2}`, string(res[2]))
}

func TestHTTPClient_EmptyStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := NewHTTPClient("instruments", srv.URL, "/", time.Second).Stream(context.Background(), Request{LookupKey: "BC-1"})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestHTTPClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantIs  error
		wantMsg string
	}{
		{
			name: "non-2xx status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "lookup service down", http.StatusServiceUnavailable)
			},
			wantIs:  ErrStatus,
			wantMsg: "status=503",
		},
		{
			name: "malformed line mid-stream",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintln(w, `{"lookupKey":"BC-1"}`)
				fmt.Fprintln(w, `{"lookupKey":`)
			},
			wantMsg: "stream line 2",
		},
		{
			name: "non-object line",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintln(w, `[1,2]`)
			},
			wantMsg: "not a JSON object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			res, err := NewHTTPClient("instruments", srv.URL, "/", time.Second).Stream(context.Background(), Request{LookupKey: "BC-1"})
			require.Error(t, err)
			assert.Nil(t, res)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			assert.ErrorContains(t, err, tt.wantMsg)
		})
	}
}
