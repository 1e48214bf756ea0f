package testutil

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sendJSON(t *testing.T, method, url, body string) map[string]any {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Less(t, resp.StatusCode, 300)

	var obj map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&obj))
	return obj
}

func TestFakeBackend_CreateAndUpdateObject(t *testing.T) {
	b := NewFakeBackend(t)

	created := sendJSON(t, http.MethodPost, b.URL()+"/api/tenant", `{"name":"Clinic A"}`)
	id, ok := created["id"].(string)
	require.True(t, ok)
	assert.Equal(t, "Clinic A", created["name"])
	assert.NotContains(t, created, "resource")

	updated := sendJSON(t, http.MethodPut, b.URL()+"/api/tenant/"+id, `{"name":"Clinic B"}`)
	assert.Equal(t, id, updated["id"])
	assert.Equal(t, "Clinic B", updated["name"])
	assert.NotContains(t, updated, "resource")
}

func TestFakeBackend_CreateObjectRejectsBadBody(t *testing.T) {
	b := NewFakeBackend(t)

	resp, err := http.Post(b.URL()+"/api/tenant", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
