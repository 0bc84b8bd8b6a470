package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collapsinghierarchy/quorum/handler"
	"github.com/collapsinghierarchy/quorum/model"
	"github.com/collapsinghierarchy/quorum/service"
	"github.com/collapsinghierarchy/quorum/store/memory"
)

var secret = []byte("test-secret")

func addr(b byte) model.Address {
	var a model.Address
	a[0] = 0xbb
	a[19] = b
	return a
}

var (
	owner = addr(0xf0)
	coord = addr(0xf1)
)

type env struct {
	t    *testing.T
	url  string
	auth *handler.Authenticator
}

func newEnv(t *testing.T) *env {
	svc := service.New(memory.New(), service.Options{
		Roles:        service.Roles{Owner: owner, Coordinator: coord},
		VotingWindow: time.Hour,
	})
	auth := handler.NewAuthenticator(secret)
	h := handler.New(svc, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/contributors", h.Register)
	mux.HandleFunc("GET /v1/contributors/banned", h.Banned)
	mux.HandleFunc("GET /v1/contributors/{address}", h.Contributor)
	mux.HandleFunc("POST /v1/submissions", h.Submit)
	mux.HandleFunc("GET /v1/submissions/{id}", h.Submission)
	mux.HandleFunc("POST /v1/submissions/{id}/votes", h.Vote)
	mux.HandleFunc("GET /v1/escrow-key", h.EscrowKey)

	srv := httptest.NewServer(auth.Middleware(mux))
	t.Cleanup(srv.Close)
	return &env{t: t, url: srv.URL, auth: auth}
}

func (e *env) token(a model.Address) string {
	e.t.Helper()
	tok, err := e.auth.Issue(a, time.Hour)
	require.NoError(e.t, err)
	return tok
}

func (e *env) do(method, path, token, body string) (int, map[string]any) {
	e.t.Helper()
	req, err := http.NewRequest(method, e.url+path, strings.NewReader(body))
	require.NoError(e.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusAccepted {
		require.NoError(e.t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestRegisterRequiresToken(t *testing.T) {
	e := newEnv(t)
	status, body := e.do("POST", "/v1/contributors", "", `{"region":"r","department":"d","idDocHash":"h"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Unauthorized", body["code"])
}

func TestRejectsBadTokens(t *testing.T) {
	e := newEnv(t)

	forged, err := handler.NewAuthenticator([]byte("other")).Issue(addr(1), time.Hour)
	require.NoError(t, err)
	status, _ := e.do("POST", "/v1/contributors", forged, `{}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	expired, err := e.auth.Issue(addr(1), -time.Minute)
	require.NoError(t, err)
	status, _ = e.do("POST", "/v1/contributors", expired, `{}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	req, _ := http.NewRequest("GET", e.url+"/v1/contributors/"+addr(1).String(), nil)
	req.Header.Set("Authorization", "Basic abc")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterAndLookup(t *testing.T) {
	e := newEnv(t)
	a := addr(1)
	body := `{"region":"north","department":"ops","idDocHash":"QmDoc"}`

	status, got := e.do("POST", "/v1/contributors", e.token(a), body)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, a.String(), got["address"])
	assert.Equal(t, true, got["registered"])
	assert.Equal(t, true, got["active"])

	status, got = e.do("POST", "/v1/contributors", e.token(a), body)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "AlreadyRegistered", got["code"])

	status, got = e.do("GET", "/v1/contributors/"+a.String(), "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "north", got["region"])

	status, got = e.do("GET", "/v1/contributors/"+addr(2).String(), "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, got["registered"])
	assert.NotContains(t, got, "registeredAt")

	status, got = e.do("GET", "/v1/contributors/not-an-address", "", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "InvalidInput", got["code"])
}

func TestErrorMapping(t *testing.T) {
	e := newEnv(t)
	stranger := e.token(addr(9))

	cases := []struct {
		name, method, path, token, body string
		status                          int
		code                            string
	}{
		{"unregistered submit", "POST", "/v1/submissions", stranger, `{"textHash":"t"}`, http.StatusForbidden, "NotRegistered"},
		{"malformed body", "POST", "/v1/submissions", stranger, `{"textHash":`, http.StatusBadRequest, "InvalidInput"},
		{"unknown field", "POST", "/v1/submissions", stranger, `{"text":"t"}`, http.StatusBadRequest, "InvalidInput"},
		{"missing submission", "GET", "/v1/submissions/42", "", "", http.StatusNotFound, "NotFound"},
		{"bad id", "GET", "/v1/submissions/abc", "", "", http.StatusBadRequest, "InvalidInput"},
		{"banned list needs owner", "GET", "/v1/contributors/banned", stranger, "", http.StatusForbidden, "Forbidden"},
		{"short proof", "POST", "/v1/submissions/1/votes", stranger, `{"decision":"Accept","proof":[]}`, http.StatusBadRequest, "InvalidInput"},
		{"bad hash", "POST", "/v1/submissions/1/votes", stranger, `{"decision":"Accept","proof":["0x12"]}`, http.StatusBadRequest, "InvalidInput"},
		{"no escrow key", "GET", "/v1/escrow-key", "", "", http.StatusNotFound, "NotFound"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := e.do(tc.method, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSubmitAndFetch(t *testing.T) {
	e := newEnv(t)
	a := addr(3)
	tok := e.token(a)
	status, _ := e.do("POST", "/v1/contributors", tok, `{"region":"r","department":"d","idDocHash":"h"}`)
	require.Equal(t, http.StatusCreated, status)

	req, err := http.NewRequest("POST", e.url+"/v1/submissions",
		bytes.NewBufferString(`{"imageHashes":["QmA","QmB"],"textHash":"QmText"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/v1/submissions/1", resp.Header.Get("Location"))

	status, got := e.do("GET", "/v1/submissions/1", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, a.String(), got["submitter"])
	assert.Equal(t, "Pending", got["status"])
	assert.Equal(t, []any{"QmA", "QmB"}, got["imageHashes"])
	assert.Equal(t, false, got["finalized"])
}
