package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myportal/portal/pkg/auth"
	"github.com/myportal/portal/pkg/notify"
	"github.com/myportal/portal/pkg/orgs"
)

func superAdminFixture(t *testing.T) (*fixture, *http.Cookie) {
	t.Helper()
	f := newFixture()
	f.addUser(1, "root@example.com", true)
	return f, f.loginAs(1, 0)
}

func TestCreateAPIKeyReturnsCleartextOnce(t *testing.T) {
	f, cookie := superAdminFixture(t)

	rr := doJSON(t, f.router, http.MethodPost, "/api/admin/api-keys",
		`{"description":"sync worker","expires_on":"2027-01-31","ip_restrictions":["10.0.0.0/8"]}`,
		cookie)
	require.Equal(t, http.StatusCreated, rr.Code)

	body := decodeBody(t, rr)
	cleartext := body["cleartext"].(string)
	assert.NotEmpty(t, cleartext)

	key := body["key"].(map[string]any)
	assert.Equal(t, "sync worker", key["description"])
	// the digest never leaves the server
	assert.NotContains(t, key, "digest")
	assert.Contains(t, cleartext, key["prefix"].(string))

	stored := f.keys.byID[1]
	require.NotNil(t, stored)
	assert.Equal(t, f.hasher.Hash(cleartext), stored.Digest)
	assert.Equal(t, []string{"10.0.0.0/8"}, stored.IPRestrictions)
	require.NotNil(t, stored.ExpiresOn)
	assert.Equal(t, time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC), stored.ExpiresOn.UTC())
}

func TestCreateAPIKeyRejectsBadDate(t *testing.T) {
	f, cookie := superAdminFixture(t)
	rr := doJSON(t, f.router, http.MethodPost, "/api/admin/api-keys",
		`{"expires_on":"31/01/2027"}`, cookie)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListAPIKeysMasksSecrets(t *testing.T) {
	f, cookie := superAdminFixture(t)
	doJSON(t, f.router, http.MethodPost, "/api/admin/api-keys", `{"description":"a"}`, cookie)

	rr := doJSON(t, f.router, http.MethodGet, "/api/admin/api-keys", "", cookie)
	require.Equal(t, http.StatusOK, rr.Code)

	keys := decodeBody(t, rr)["keys"].([]any)
	require.Len(t, keys, 1)
	entry := keys[0].(map[string]any)
	assert.Contains(t, entry["masked"], "****")
	assert.NotContains(t, entry, "digest")
}

func TestIntegrationWhoami(t *testing.T) {
	f := newFixture()

	rr := doJSON(t, f.router, http.MethodGet, "/api/integration/whoami", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	f.keySource.key = &auth.APIKey{ID: 12, Prefix: "portal_a", Description: "billing sync"}
	rr = doJSON(t, f.router, http.MethodGet, "/api/integration/whoami", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	require.EqualValues(t, 12, body["key_id"])
	require.Contains(t, body["masked"], "portal_a")
	require.Equal(t, "billing sync", body["description"])
}

func TestDeleteAPIKey(t *testing.T) {
	f, cookie := superAdminFixture(t)
	doJSON(t, f.router, http.MethodPost, "/api/admin/api-keys", `{}`, cookie)

	rr := doJSON(t, f.router, http.MethodDelete, "/api/admin/api-keys/1", "", cookie)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, f.keys.byID)

	rr = doJSON(t, f.router, http.MethodDelete, "/api/admin/api-keys/1", "", cookie)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminRoutesRejectNonSuperAdmins(t *testing.T) {
	f := newFixture()
	f.addUser(1, "admin@example.com", false)
	f.addCompany(3, "Acme")
	f.addMembership(1, 3, orgs.MembershipActive, adminCaps())
	cookie := f.loginAs(1, 3)

	// company admin is not enough for the admin subtree
	rr := doJSON(t, f.router, http.MethodGet, "/api/admin/api-keys", "", cookie)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestListNotifications(t *testing.T) {
	f := newFixture()
	f.addUser(1, "ana@example.com", false)
	now := time.Now()
	f.notes.byUser[1] = []*notify.Notification{
		{ID: 10, UserID: 1, EventType: "ticket.assigned", Message: "ticket #4 assigned to you"},
		{ID: 11, UserID: 1, EventType: "invoice.due", Message: "invoice due", ReadAt: &now},
	}
	cookie := f.loginAs(1, 0)

	rr := doJSON(t, f.router, http.MethodGet, "/api/notifications", "", cookie)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody(t, rr)["notifications"], 2)

	rr = doJSON(t, f.router, http.MethodGet, "/api/notifications?unread=true", "", cookie)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decodeBody(t, rr)["notifications"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, float64(10), list[0].(map[string]any)["id"])
}

type fakeSender struct {
	eventType string
	message   string
	userID    *int64
	calls     int
}

func (f *fakeSender) Dispatch(_ context.Context, eventType, message string, userID *int64, _ map[string]any) {
	f.calls++
	f.eventType = eventType
	f.message = message
	f.userID = userID
}

func TestBroadcastNotification(t *testing.T) {
	f, cookie := superAdminFixture(t)
	sender := &fakeSender{}
	f.server.SetDispatcher(sender)

	rr := doJSON(t, f.router, http.MethodPost, "/api/admin/notifications",
		`{"event_type":"maintenance.window","message":"portal down at midnight"}`, cookie)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, "maintenance.window", sender.eventType)
	assert.Nil(t, sender.userID)

	rr = doJSON(t, f.router, http.MethodPost, "/api/admin/notifications",
		`{"event_type":"x","message":""}`, cookie)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBroadcastWithoutDispatcher(t *testing.T) {
	f, cookie := superAdminFixture(t)
	rr := doJSON(t, f.router, http.MethodPost, "/api/admin/notifications",
		`{"event_type":"x","message":"y"}`, cookie)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMarkNotificationReadIsOwnerScoped(t *testing.T) {
	f := newFixture()
	f.addUser(1, "ana@example.com", false)
	f.addUser(2, "bob@example.com", false)
	f.notes.byUser[2] = []*notify.Notification{{ID: 10, UserID: 2, Message: "not yours"}}
	cookie := f.loginAs(1, 0)

	rr := doJSON(t, f.router, http.MethodPost, "/api/notifications/10/read", "", cookie)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
