//go:build integration && linux

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type testClient struct {
	baseURL string
	client  *http.Client
}

func newTestClient(baseURL string) *testClient {
	return &testClient{baseURL: baseURL, client: &http.Client{}}
}

type opResponse struct {
	status int
	body   map[string]any
}

func (r opResponse) success() bool {
	ok, _ := r.body["success"].(bool)
	return ok
}

func (r opResponse) errorCode() string {
	errObj, _ := r.body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func (r opResponse) str(key string) string {
	s, _ := r.body[key].(string)
	return s
}

func (r opResponse) meta() map[string]any {
	m, _ := r.body["meta"].(map[string]any)
	return m
}

// tryOp posts one operation and decodes the envelope. Safe to call from
// worker goroutines; assertions stay in the test goroutine.
func (c *testClient) tryOp(name string, args map[string]any) (opResponse, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return opResponse{}, err
	}
	resp, err := c.client.Post(c.baseURL+"/v1/operations/"+name, "application/json", bytes.NewReader(data))
	if err != nil {
		return opResponse{}, err
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return opResponse{}, fmt.Errorf("decode %s response: %w", name, err)
	}
	return opResponse{status: resp.StatusCode, body: body}, nil
}

func (c *testClient) op(t *testing.T, name string, args map[string]any) opResponse {
	t.Helper()
	res, err := c.tryOp(name, args)
	require.NoError(t, err)
	return res
}

func (c *testClient) createSession(t *testing.T) string {
	t.Helper()
	res := c.op(t, "create_session", map[string]any{})
	require.True(t, res.success(), "create_session failed: %v", res.body)
	id := res.str("id")
	require.NotEmpty(t, id)
	return id
}

func (c *testClient) execute(t *testing.T, id, code string, limits map[string]any) opResponse {
	t.Helper()
	args := map[string]any{"id": id, "code": code}
	if limits != nil {
		args["limits"] = limits
	}
	return c.op(t, "execute_in_session", args)
}

func (c *testClient) mustExecute(t *testing.T, id, code string) string {
	t.Helper()
	res := c.execute(t, id, code, nil)
	require.True(t, res.success(), "execute %q failed: %v", code, res.body)
	return res.str("output")
}

func (c *testClient) closeSession(t *testing.T, id string) {
	t.Helper()
	res := c.op(t, "close_session", map[string]any{"id": id})
	require.True(t, res.success(), "close_session failed: %v", res.body)
}
