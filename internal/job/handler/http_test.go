package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/ezmove/internal/auth"
	"github.com/example/ezmove/internal/job/domain"
	"github.com/example/ezmove/internal/job/handler"
	"github.com/example/ezmove/internal/job/repository"
	"github.com/example/ezmove/internal/job/service"
)

const secret = "handler-secret"

type jobResponse struct {
	Success bool       `json:"success"`
	Job     domain.Job `json:"job"`
	Message string     `json:"message"`
}

func TestJobEndpoints(t *testing.T) {
	svc := service.New(repository.NewMemoryRepository(), nil, nil, domain.SystemClock{}, repository.NewMemoryIdempotencyRepo())
	router := handler.NewHTTP(svc, auth.NewAuthenticator(secret), nil).Router()
	issuer := auth.NewIssuer(secret)

	clientID, driverID := uuid.New(), uuid.New()
	clientToken, err := issuer.IssueAccessToken(clientID, auth.RoleClient, time.Hour)
	require.NoError(t, err)
	driverToken, err := issuer.IssueAccessToken(driverID, auth.RoleDriver, time.Hour)
	require.NoError(t, err)
	strangerToken, err := issuer.IssueAccessToken(uuid.New(), auth.RoleClient, time.Hour)
	require.NoError(t, err)

	do := func(method, path, token, body string) (int, jobResponse) {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		var resp jobResponse
		_ = json.NewDecoder(rec.Body).Decode(&resp)
		return rec.Code, resp
	}

	code, _ := do(http.MethodPost, "/", driverToken, `{}`)
	require.Equal(t, http.StatusForbidden, code)

	code, created := do(http.MethodPost, "/", clientToken, `{"pickup":{"lat":1,"lng":1},"delivery":{"lat":1.1,"lng":1}}`)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, domain.StatusPending, created.Job.Status)
	jobPath := "/" + created.Job.ID.String()

	code, _ = do(http.MethodGet, jobPath, strangerToken, "")
	require.Equal(t, http.StatusForbidden, code)

	code, _ = do(http.MethodPost, jobPath+"/start", driverToken, "")
	require.Equal(t, http.StatusForbidden, code)

	code, resp := do(http.MethodPost, jobPath+"/accept", driverToken, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, domain.StatusAccepted, resp.Job.Status)

	code, _ = do(http.MethodPost, jobPath+"/complete", driverToken, "")
	require.Equal(t, http.StatusConflict, code)

	code, resp = do(http.MethodPost, jobPath+"/start", driverToken, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, domain.StatusInProgress, resp.Job.Status)

	code, resp = do(http.MethodGet, jobPath, clientToken, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, domain.StatusInProgress, resp.Job.Status)

	code, resp = do(http.MethodPost, jobPath+"/cancel", clientToken, `{"reason":"wrong address"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "wrong address", resp.Job.CancellationReason)

	code, _ = do(http.MethodGet, "/"+uuid.NewString(), clientToken, "")
	require.Equal(t, http.StatusNotFound, code)
}
