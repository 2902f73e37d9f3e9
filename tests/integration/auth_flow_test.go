//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

type sessionResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func login(t *testing.T, ts *TestServer, email, password string) (*http.Response, sessionResponse) {
	t.Helper()
	resp, err := ts.Request(http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
	require.NoError(t, err)

	var session sessionResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, ParseJSONResponse(resp, &session))
	}
	return resp, session
}

func TestAuthFlow_RegisterVerifyLoginRefreshLogout(t *testing.T) {
	resetTables(t)
	ts := NewTestServer(testDB.DB)
	defer ts.Close()

	email, password := TestUser("flow")

	resp, err := ts.Request(http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Flow User", "email": email, "password": password,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, _ = login(t, ts, email, password)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "email not verified yet")
	resp.Body.Close()

	code := ts.Mailer.LastCode("verification_code", email)
	require.NotEmpty(t, code)
	resp, err = ts.Request(http.MethodPost, "/auth/otp/verify", "", map[string]string{"email": email, "code": code})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 1, ts.Mailer.Count("welcome", email))

	resp, session := login(t, ts, email, password)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, session.AccessToken)

	resp, err = ts.Request(http.MethodGet, "/auth/me", session.AccessToken, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// refresh tokens rotate and can be exchanged once
	resp, err = ts.Request(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": session.RefreshToken})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rotated sessionResponse
	require.NoError(t, ParseJSONResponse(resp, &rotated))

	resp, err = ts.Request(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": session.RefreshToken})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp, err = ts.Request(http.MethodPost, "/auth/logout", rotated.AccessToken, map[string]string{"refresh_token": rotated.RefreshToken})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err = ts.Request(http.MethodGet, "/auth/me", rotated.AccessToken, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestAuthFlow_LockoutAfterRepeatedFailures(t *testing.T) {
	resetTables(t)
	ts := NewTestServer(testDB.DB)
	defer ts.Close()

	email, password := TestUser("lockout")
	_, err := SeedUser(context.Background(), ts.Users, email, password, models.RoleStudent, true)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		resp, _ := login(t, ts, email, "Wrong-Password-1")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}

	resp, _ := login(t, ts, email, "Wrong-Password-1")
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	var errResp pkghttp.ErrorResponse
	require.NoError(t, ParseJSONResponse(resp, &errResp))
	assert.Equal(t, "try again in 30 minutes", errResp.Details)

	resp, _ = login(t, ts, email, password)
	assert.Equal(t, http.StatusLocked, resp.StatusCode, "correct password while locked")
	resp.Body.Close()

	assert.Equal(t, 1, ts.Mailer.Count("account_locked", email))
}

func TestAuthFlow_AdminLockAndAuditTrail(t *testing.T) {
	resetTables(t)
	ts := NewTestServer(testDB.DB)
	defer ts.Close()
	ctx := context.Background()

	adminEmail, adminPassword := TestUser("admin")
	_, err := SeedUser(ctx, ts.Users, adminEmail, adminPassword, models.RoleAdmin, true)
	require.NoError(t, err)
	studentEmail, studentPassword := TestUser("student")
	student, err := SeedUser(ctx, ts.Users, studentEmail, studentPassword, models.RoleStudent, true)
	require.NoError(t, err)

	resp, adminSession := login(t, ts, adminEmail, adminPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, studentSession := login(t, ts, studentEmail, studentPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = ts.Request(http.MethodPost, "/admin/users/"+student.ID+"/lock", studentSession.AccessToken, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "students cannot use admin routes")
	resp.Body.Close()

	resp, err = ts.Request(http.MethodPost, "/admin/users/"+student.ID+"/lock", adminSession.AccessToken, map[string]string{"reason": "investigation"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// the live session is cut off by the gate
	resp, err = ts.Request(http.MethodGet, "/auth/me", studentSession.AccessToken, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	resp.Body.Close()

	resp, _ = login(t, ts, studentEmail, studentPassword)
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	var errResp pkghttp.ErrorResponse
	require.NoError(t, ParseJSONResponse(resp, &errResp))
	assert.Equal(t, "contact an administrator", errResp.Details)

	resp, err = ts.Request(http.MethodGet, "/admin/users/"+student.ID+"/audit?limit=10", adminSession.AccessToken, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var trail struct {
		Logs []struct {
			EventKind string `json:"event_kind"`
		} `json:"logs"`
	}
	require.NoError(t, ParseJSONResponse(resp, &trail))
	kinds := make([]string, 0, len(trail.Logs))
	for _, l := range trail.Logs {
		kinds = append(kinds, l.EventKind)
	}
	assert.Contains(t, kinds, models.AuditEventStatusChange)

	resp, err = ts.Request(http.MethodPost, "/admin/users/"+student.ID+"/unlock", adminSession.AccessToken, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, _ = login(t, ts, studentEmail, studentPassword)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, ts.Mailer.Count("account_unlocked", studentEmail))
}

func TestHealth(t *testing.T) {
	ts := NewTestServer(testDB.DB)
	defer ts.Close()

	resp, err := ts.Request(http.MethodGet, "/health", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
