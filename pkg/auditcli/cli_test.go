package auditcli

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, srvURL string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--host", srvURL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestQueryCmd(t *testing.T) {
	t.Run("passes_filters_as_query_params", func(t *testing.T) {
		var gotPath, gotQuery string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			fmt.Fprint(w, `{"decisions":[],"count":0}`)
		}))
		defer srv.Close()

		out, err := runCommand(t, srv.URL, "query", "--decision", "deny", "--limit", "5", "--subject-id", "u-1")
		require.NoError(t, err)

		assert.Equal(t, "/v1/decisions", gotPath)
		assert.Contains(t, gotQuery, "decision=deny")
		assert.Contains(t, gotQuery, "limit=5")
		assert.Contains(t, gotQuery, "subject_id=u-1")
		assert.Contains(t, out, `"count"`)
	})

	t.Run("surfaces_api_errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":400,"message":"invalid decision filter"}`)
		}))
		defer srv.Close()

		_, err := runCommand(t, srv.URL, "query", "--decision", "maybe")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid decision filter")
	})
}

func TestStatsCmd(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"total_decisions":12,"allowed":8,"denied":4}`)
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "stats")
	require.NoError(t, err)
	assert.Equal(t, "/v1/decisions/stats", gotPath)
	assert.Contains(t, out, `"total_decisions"`)
}

func TestPurgeCmd(t *testing.T) {
	t.Run("sends_delete_with_days", func(t *testing.T) {
		var gotMethod, gotQuery string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotQuery = r.URL.RawQuery
			fmt.Fprint(w, `{"deleted":7}`)
		}))
		defer srv.Close()

		out, err := runCommand(t, srv.URL, "purge", "--older-than-days", "90")
		require.NoError(t, err)
		assert.Equal(t, http.MethodDelete, gotMethod)
		assert.Equal(t, "older_than_days=90", gotQuery)
		assert.Contains(t, out, `"deleted"`)
	})

	t.Run("requires_days_flag", func(t *testing.T) {
		_, err := runCommand(t, "http://127.0.0.1:1", "purge")
		require.Error(t, err)
	})
}

func TestExportHealthCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"healthy"}`)
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "export-health")
	require.NoError(t, err)
	assert.Contains(t, out, "healthy")
}

func TestVersionCmd(t *testing.T) {
	out, err := runCommand(t, "http://127.0.0.1:1", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "auditctl")
}
