package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseRole tests the accepted role spellings
func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"primary", RolePrimary, false},
		{"P", RolePrimary, false},
		{" mirror ", RoleMirror, false},
		{"m", RoleMirror, false},
		{"standby", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestSegmentPeerPort tests the replication port fallback
func TestSegmentPeerPort(t *testing.T) {
	seg := Segment{Port: 6000}
	assert.Equal(t, 6000, seg.PeerPort())

	seg.ReplicationPort = 7000
	assert.Equal(t, 7000, seg.PeerPort())
}

// TestSegmentPredicates tests role and coordinator helpers
func TestSegmentPredicates(t *testing.T) {
	p := Segment{Role: RolePrimary, ContentID: 0}
	m := Segment{Role: RoleMirror, ContentID: 0}
	c := Segment{Role: RolePrimary, ContentID: CoordinatorContentID}

	assert.True(t, p.IsPrimary())
	assert.False(t, p.IsMirror())
	assert.True(t, m.IsMirror())
	assert.True(t, c.IsCoordinator())
	assert.False(t, p.IsCoordinator())
	assert.Contains(t, p.String(), "dbid=0")
}

// TestPostJSON tests the PostJSON function with various scenarios
func TestPostJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		responseBody   *TransitionResponse
		expectError    bool
		contextTimeout bool
	}{
		{
			name:           "successful POST with response",
			serverResponse: http.StatusOK,
			serverBody:     `{"exit_code":1,"stdout":"STATUS--DIR:/d--STARTED:true"}`,
			responseBody:   &TransitionResponse{},
		},
		{
			name:           "successful POST without response body",
			serverResponse: http.StatusNoContent,
		},
		{
			name:           "server error response",
			serverResponse: http.StatusInternalServerError,
			serverBody:     `{"error":"internal error"}`,
			expectError:    true,
		},
		{
			name:           "context timeout",
			serverResponse: http.StatusOK,
			serverBody:     `{}`,
			responseBody:   &TransitionResponse{},
			expectError:    true,
			contextTimeout: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var req TransitionRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "payload-bytes", req.Payload)

				if tt.contextTimeout {
					time.Sleep(100 * time.Millisecond)
				}
				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			ctx := context.Background()
			if tt.contextTimeout {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, 1*time.Millisecond)
				defer cancel()
			}

			var out any
			if tt.responseBody != nil {
				out = tt.responseBody
			}
			err := PostJSON(ctx, server.URL, TransitionRequest{Payload: "payload-bytes"}, out)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.responseBody != nil {
				assert.Equal(t, 1, tt.responseBody.ExitCode)
				assert.Contains(t, tt.responseBody.Stdout, "STARTED:true")
			}
		})
	}
}

// TestPostJSONInvalidURL tests PostJSON with invalid URL
func TestPostJSONInvalidURL(t *testing.T) {
	ctx := context.Background()

	err := PostJSON(ctx, "://invalid-url", TransitionRequest{}, nil)
	assert.Error(t, err)

	err = PostJSON(ctx, "http://localhost:99999", TransitionRequest{}, nil)
	assert.Error(t, err)
}

// TestGetJSON tests the GetJSON function with various scenarios
func TestGetJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		expectError    bool
	}{
		{"successful GET", http.StatusOK, `{"status":"ok"}`, false},
		{"not found error", http.StatusNotFound, `{"error":"not found"}`, true},
		{"invalid JSON response", http.StatusOK, `{invalid json}`, true},
		{"redirect response", http.StatusMovedPermanently, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			var out map[string]string
			err := GetJSON(context.Background(), server.URL, &out)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ok", out["status"])
		})
	}
}

// TestGetJSONNilOut tests that a nil destination skips decoding
func TestGetJSONNilOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	assert.NoError(t, GetJSON(context.Background(), server.URL, nil))
}

// TestErrorQuotesBody tests that a failed response body ends up in the error
func TestErrorQuotesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := PostJSON(context.Background(), server.URL+"/transition", TransitionRequest{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503: agent busy")
}
