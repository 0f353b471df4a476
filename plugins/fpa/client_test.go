package fpa

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/gofpa/internal/session"
)

type memorySaver struct {
	mu     sync.Mutex
	states []session.State
}

func (m *memorySaver) Save(_ context.Context, state session.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
	return nil
}

func (m *memorySaver) last() session.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[len(m.states)-1]
}

const loginJSON = `{"token":"access-9","refreshToken":"refresh-9","email":"parent@example.com","firstName":"Sam","lastName":"Doe",
	"devices":[{"id":"1","deviceId":"dev1","title":"Kitchen","wifiMacAddress":"aa","bleMacAddress":"bb"}]}`

func TestLoginDiscoversEndpointsAndPersists(t *testing.T) {
	fs := newFakeSession()
	fs.route(http.MethodGet, "/v1", http.StatusOK, `{"api":"api.example","websockets":"wss://ws.example"}`)
	fs.route(http.MethodPost, "/authentication/login", http.StatusOK, loginJSON)
	saver := &memorySaver{}
	c := NewClient(Config{InfoURL: "https://info.test/v1"}, WithSession(fs), WithStateSaver(saver))
	defer c.Close()

	account, err := c.Login(context.Background(), "parent@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, Account{Email: "parent@example.com", FirstName: "Sam", LastName: "Doe"}, account)

	require.Len(t, fs.requests, 2)
	assert.Equal(t, "/v1", fs.requests[0].path)
	login := fs.requests[1]
	assert.Equal(t, "", login.auth)
	assert.Equal(t, map[string]string{"email": "parent@example.com", "password": "hunter2"}, login.body)

	assert.Equal(t, "https://api.example", c.apiURL)
	assert.Equal(t, "wss://ws.example", c.websocketsURL())
	assert.Equal(t, "access-9", c.creds.AccessToken())

	devices := c.Devices()
	require.Len(t, devices, 1)
	assert.Equal(t, "Kitchen", devices[0].Title)
	assert.False(t, devices[0].HasDetails)

	state := saver.last()
	assert.Equal(t, "refresh-9", state.RefreshToken)
	assert.Equal(t, "parent@example.com", state.Email)
	assert.Equal(t, session.SchemaVersion, state.SchemaVersion)
}

func TestLoginAPIError(t *testing.T) {
	fs := newFakeSession()
	fs.route(http.MethodPost, "/authentication/login", http.StatusUnauthorized, `{"message":"invalid credentials"}`)
	c := newTestClient(t, fs, Config{})

	_, err := c.Login(context.Background(), "a@b.c", "nope")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Code)
	assert.Equal(t, "invalid credentials", apiErr.Message)
	assert.Equal(t, "401: invalid credentials", apiErr.Error())
}

func TestAPIErrorFallsBackToBodyText(t *testing.T) {
	fs := newFakeSession()
	fs.route(http.MethodPut, "/bottles/7/start", http.StatusServiceUnavailable, "Service Unavailable\n")
	c := newTestClient(t, fs, Config{})

	err := c.StartBottle(context.Background(), 7)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Code)
	assert.Equal(t, "Service Unavailable", apiErr.Message)
}

func TestLoginRejectsIncompleteResponse(t *testing.T) {
	fs := newFakeSession()
	fs.route(http.MethodPost, "/authentication/login", http.StatusOK, `{"token":"t","email":"a@b.c"}`)
	c := newTestClient(t, fs, Config{})

	_, err := c.Login(context.Background(), "a@b.c", "pw")
	assert.ErrorContains(t, err, "refreshToken")
	_, ok := c.Account()
	assert.False(t, ok)
}

func TestStartBottleSendsToken(t *testing.T) {
	fs := newFakeSession()
	fs.route(http.MethodPut, "/bottles/7/start", http.StatusOK, `{}`)
	c := newTestClient(t, fs, Config{})

	require.NoError(t, c.StartBottle(context.Background(), 7))
	reqs := fs.requestsTo("/bottles/7/start")
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPut, reqs[0].method)
	assert.Equal(t, "access-1", reqs[0].auth)
}

func TestRefreshLoadsAccountOnce(t *testing.T) {
	fs := newFakeSession()
	saver := &memorySaver{}
	creds := session.NewCredentials()
	creds.SetRefreshToken("refresh-1")
	c := NewClient(Config{APIURL: "https://api.test", WebsocketsURL: "wss://ws.test"},
		WithSession(fs), WithCredentials(creds), WithStateSaver(saver))
	defer c.Close()

	require.NoError(t, c.Refresh(context.Background()))
	require.NoError(t, c.Refresh(context.Background()))

	assert.Len(t, fs.requestsTo("/authentication/me"), 1)
	assert.Len(t, fs.requestsTo("/authentication/refresh"), 2)
	account, ok := c.Account()
	require.True(t, ok)
	assert.Equal(t, "parent@example.com", account.Email)
	assert.Len(t, c.Devices(), 2)
	assert.Equal(t, "refresh-2", saver.last().RefreshToken)
	assert.Equal(t, "parent@example.com", saver.last().Email)
}

func TestRefreshWithoutToken(t *testing.T) {
	c := NewClient(Config{APIURL: "https://api.test", WebsocketsURL: "wss://ws.test"}, WithSession(newFakeSession()))
	defer c.Close()

	assert.ErrorIs(t, c.Refresh(context.Background()), session.ErrNoToken)
}

func TestDeviceDetails(t *testing.T) {
	fs := newFakeSession()
	c := newTestClient(t, fs, Config{})
	_, err := c.Me(context.Background())
	require.NoError(t, err)

	device, err := c.DeviceDetails(context.Background(), "dev1")
	require.NoError(t, err)
	assert.True(t, device.HasDetails)
	assert.Equal(t, 7, device.Bottles[0].ID)
	assert.Equal(t, "2024-01-01T03:00:00Z", device.BottleCreationLog[0].CompletionTimestamp)
	assert.Equal(t, "access-1", fs.requestsTo("/devices/dev1/details")[0].auth)

	_, err = c.DeviceDetails(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownDevice)

	fs.route(http.MethodGet, "/devices/dev2/details", http.StatusOK, `{"bottles":[]}`)
	_, err = c.DeviceDetails(context.Background(), "dev2")
	assert.ErrorContains(t, err, "bottleCreationLog")
}

func TestCallsWithoutTokenFail(t *testing.T) {
	c := NewClient(Config{APIURL: "https://api.test", WebsocketsURL: "wss://ws.test"}, WithSession(newFakeSession()))
	defer c.Close()

	_, err := c.Me(context.Background())
	assert.ErrorIs(t, err, session.ErrNoToken)
}

func TestConnectAllHonoursDeviceFilter(t *testing.T) {
	fs := newFakeSession()
	c := newTestClient(t, fs, Config{Devices: []string{"dev2"}})
	rec := newSleepRecorder(1)
	c.sleep = rec.sleep

	require.NoError(t, c.ConnectAll(context.Background()))
	rec.wait(t)
	require.NoError(t, c.Close())

	require.Len(t, fs.dials, 1)
	assert.Contains(t, fs.dials[0], "deviceId=dev2")
	assert.Empty(t, fs.requestsTo("/devices/dev1/details"))
}
