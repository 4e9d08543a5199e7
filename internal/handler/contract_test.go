package handler_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"
)

func compileContract(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()

	schemaPath, err := filepath.Abs(filepath.Join("testdata", "contracts", name))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)
	return schema
}

func validateContract(t *testing.T, schema *jsonschema.Schema, resp *http.Response) {
	t.Helper()

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.NoError(t, schema.Validate(payload), string(body))
}

func rawRequest(t *testing.T, env *testEnv, method, path, body string, headers map[string]string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestSubmissionContract(t *testing.T) {
	env := setupEnv(t, "contract_submission")
	assignmentID := env.createAssignment(t, nil)

	resp := rawRequest(t, env, http.MethodPost, "/api/v1/submissions",
		`{"assignment_id":"`+assignmentID+`","submission_type":"text","content":"contract essay"}`, env.asStudent())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	validateContract(t, compileContract(t, "submission.schema.json"), resp)
}

func TestAssignmentListContract(t *testing.T) {
	env := setupEnv(t, "contract_assignment_list")
	env.createAssignment(t, map[string]interface{}{"allowed_file_types": []string{"pdf"}})

	resp := rawRequest(t, env, http.MethodGet, "/api/v1/assignments", "", env.asFaculty())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	validateContract(t, compileContract(t, "assignment_list.schema.json"), resp)
}

func TestErrorEnvelopeContract(t *testing.T) {
	env := setupEnv(t, "contract_errors")
	schema := compileContract(t, "error_envelope.schema.json")

	resp := rawRequest(t, env, http.MethodPost, "/api/v1/submissions", `{"submission_type":"essay"}`, env.asStudent())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	validateContract(t, schema, resp)

	resp = rawRequest(t, env, http.MethodGet, "/api/v1/submissions/unknown", "", env.asFaculty())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	validateContract(t, schema, resp)

	resp = rawRequest(t, env, http.MethodPost, "/api/v1/submissions", `{not json`, env.asStudent())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	validateContract(t, schema, resp)
}
