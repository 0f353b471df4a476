package fpa

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/joshp123/gofpa/internal/session"
)

// StateSaver persists the refresh token after login and refresh.
type StateSaver interface {
	Save(ctx context.Context, state session.State) error
}

// Option configures a Client.
type Option func(*Client)

// WithSession makes the client use an externally owned Session. Close never
// closes it.
func WithSession(s Session) Option {
	return func(c *Client) {
		c.session = s
		c.ownsSession = false
	}
}

// WithCredentials shares a credential holder with the caller.
func WithCredentials(creds *session.Credentials) Option {
	return func(c *Client) { c.creds = creds }
}

func WithStateSaver(saver StateSaver) Option {
	return func(c *Client) { c.saver = saver }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client is the FPA account client. It owns the device registry, the
// listener hub and one streaming connection per connected device.
type Client struct {
	cfg         Config
	log         zerolog.Logger
	session     Session
	ownsSession bool
	creds       *session.Credentials
	saver       StateSaver

	registry  *Registry
	listeners *Listeners

	mu      sync.Mutex
	apiURL  string
	wsURL   string
	account *Account
	email   string
	conns   map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	sleep func(context.Context, time.Duration) error
}

func NewClient(cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:         cfg,
		log:         zerolog.Nop(),
		ownsSession: true,
		apiURL:      strings.TrimRight(cfg.APIURL, "/"),
		wsURL:       cfg.WebsocketsURL,
		conns:       make(map[string]bool),
		ctx:         ctx,
		cancel:      cancel,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.session == nil {
		c.session = NewHTTPSession(cfg.RateLimitPerMinute)
		c.ownsSession = true
	}
	if c.creds == nil {
		c.creds = session.NewCredentials()
	}
	c.registry = NewRegistry()
	c.listeners = NewListeners(c.log)
	return c
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	return c.closed.Load()
}

// Close stops every device connection, waits for them and for pending
// listener callbacks, then closes the Session if the client created it.
func (c *Client) Close() error {
	c.mu.Lock()
	already := c.closed.Swap(true)
	c.mu.Unlock()
	if already {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	c.listeners.Close()
	if c.ownsSession {
		return c.session.Close()
	}
	return nil
}

// Login authenticates with email and password and loads the account.
func (c *Client) Login(ctx context.Context, email, password string) (Account, error) {
	if err := c.initialize(ctx); err != nil {
		return Account{}, err
	}
	req := map[string]string{"email": email, "password": password}
	var resp loginWire
	if err := c.call(ctx, http.MethodPost, "/authentication/login", false, req, &resp); err != nil {
		return Account{}, fmt.Errorf("login: %w", err)
	}
	if err := resp.tokensWire.validate(); err != nil {
		return Account{}, fmt.Errorf("login: %w", err)
	}
	if err := resp.accountWire.validate(); err != nil {
		return Account{}, fmt.Errorf("login: %w", err)
	}

	c.creds.Set(resp.Token, resp.RefreshToken)
	account := c.setAccount(resp.accountWire)
	c.persist(ctx)
	return account, nil
}

// Refresh exchanges the stored refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context) error {
	refreshToken := c.creds.RefreshToken()
	if refreshToken == "" {
		return fmt.Errorf("refresh: %w", session.ErrNoToken)
	}
	return c.RefreshWithToken(ctx, refreshToken)
}

// RefreshWithToken exchanges refreshToken for a new access token and loads
// the account when it has not been loaded yet.
func (c *Client) RefreshWithToken(ctx context.Context, refreshToken string) error {
	if err := c.initialize(ctx); err != nil {
		return err
	}
	req := map[string]string{"refreshToken": refreshToken}
	var resp tokensWire
	if err := c.call(ctx, http.MethodPost, "/authentication/refresh", false, req, &resp); err != nil {
		refreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("refresh: %w", err)
	}
	if err := resp.validate(); err != nil {
		refreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("refresh: %w", err)
	}
	refreshTotal.WithLabelValues("ok").Inc()
	c.creds.Set(resp.Token, resp.RefreshToken)

	if !c.hasAccount() {
		if _, err := c.Me(ctx); err != nil {
			return err
		}
	}
	c.persist(ctx)
	return nil
}

// Me loads the account profile and device list.
func (c *Client) Me(ctx context.Context) (Account, error) {
	if err := c.initialize(ctx); err != nil {
		return Account{}, err
	}
	var resp accountWire
	if err := c.call(ctx, http.MethodGet, "/authentication/me", true, nil, &resp); err != nil {
		return Account{}, fmt.Errorf("me: %w", err)
	}
	if err := resp.validate(); err != nil {
		return Account{}, fmt.Errorf("me: %w", err)
	}
	return c.setAccount(resp), nil
}

// Account returns the loaded account, if any.
func (c *Client) Account() (Account, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.account == nil {
		return Account{}, false
	}
	return *c.account, true
}

// Devices returns snapshots of every device on the account.
func (c *Client) Devices() []Device {
	return c.registry.List()
}

// Device returns a snapshot of one device.
func (c *Client) Device(deviceID string) (Device, error) {
	return c.registry.Find(deviceID)
}

// ShadowDocument returns a copy of the merged shadow document of a device.
func (c *Client) ShadowDocument(deviceID string) (map[string]any, error) {
	return c.registry.Document(deviceID)
}

// DeviceDetails fetches bottles, the creation log and the shadow snapshot of
// a device and stores them in the registry. A malformed snapshot is stored
// too; the device is returned together with a *MalformedShadowError.
func (c *Client) DeviceDetails(ctx context.Context, deviceID string) (Device, error) {
	if _, err := c.registry.Find(deviceID); err != nil {
		return Device{}, err
	}
	if err := c.initialize(ctx); err != nil {
		return Device{}, err
	}
	var details DeviceDetails
	path := "/devices/" + deviceID + "/details"
	if err := c.call(ctx, http.MethodGet, path, true, nil, &details); err != nil {
		return Device{}, fmt.Errorf("device %s details: %w", deviceID, err)
	}
	if err := details.validate(); err != nil {
		return Device{}, fmt.Errorf("device %s details: %w", deviceID, err)
	}
	return c.registry.MarkDetailsLoaded(deviceID, details)
}

// StartBottle asks the appliance to make the given bottle preset.
func (c *Client) StartBottle(ctx context.Context, bottleID int) error {
	if err := c.initialize(ctx); err != nil {
		return err
	}
	path := fmt.Sprintf("/bottles/%d/start", bottleID)
	if err := c.call(ctx, http.MethodPut, path, true, nil, nil); err != nil {
		return fmt.Errorf("start bottle %d: %w", bottleID, err)
	}
	return nil
}

// ConnectToDevice loads the account and device details if needed and starts
// a background streaming connection. It returns once the connection is
// started; connecting an already connected device is a no-op.
func (c *Client) ConnectToDevice(ctx context.Context, deviceID string) error {
	if c.Closed() {
		return ErrClosed
	}
	if !c.hasAccount() {
		if _, err := c.Me(ctx); err != nil {
			return err
		}
	}
	device, err := c.registry.Find(deviceID)
	if err != nil {
		return err
	}
	if !device.HasDetails {
		if _, err := c.DeviceDetails(ctx, deviceID); err != nil && !isMalformedShadow(err) {
			return err
		}
	}

	c.mu.Lock()
	if c.conns[deviceID] {
		c.mu.Unlock()
		return nil
	}
	if c.Closed() {
		c.mu.Unlock()
		return ErrClosed
	}
	c.conns[deviceID] = true
	c.wg.Add(1)
	c.mu.Unlock()

	conn := newDeviceConnection(c, deviceID)
	go func() {
		defer c.wg.Done()
		conn.run(c.ctx)
	}()
	return nil
}

// ConnectAll connects every device selected by Config.Devices.
func (c *Client) ConnectAll(ctx context.Context) error {
	if !c.hasAccount() {
		if _, err := c.Me(ctx); err != nil {
			return err
		}
	}
	var errs []error
	for _, device := range c.registry.List() {
		if !c.cfg.wantsDevice(device.DeviceID) {
			continue
		}
		if err := c.ConnectToDevice(ctx, device.DeviceID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddListener subscribes fn to device changes.
func (c *Client) AddListener(fn ListenerFunc) Subscription {
	return c.listeners.Subscribe(fn)
}

func (c *Client) RemoveListener(s Subscription) {
	c.listeners.Unsubscribe(s)
}

func (c *Client) initialize(ctx context.Context) error {
	c.mu.Lock()
	ready := c.apiURL != "" && c.wsURL != ""
	c.mu.Unlock()
	if ready {
		return nil
	}

	status, body, err := c.session.Do(ctx, http.MethodGet, c.cfg.InfoURL, nil, nil)
	if err != nil {
		return fmt.Errorf("discover endpoints: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("discover endpoints: %w", apiErrorFromBody(status, body))
	}
	var info infoWire
	if err := decodeJSON(body, &info); err != nil {
		return fmt.Errorf("discover endpoints: %w", err)
	}
	if info.API == "" || info.Websockets == "" {
		return fmt.Errorf("discover endpoints: response missing api or websockets")
	}

	c.mu.Lock()
	if c.apiURL == "" {
		c.apiURL = "https://" + info.API
	}
	if c.wsURL == "" {
		c.wsURL = info.Websockets
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) websocketsURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wsURL
}

func (c *Client) call(ctx context.Context, method, path string, auth bool, req, out any) error {
	c.mu.Lock()
	endpoint := c.apiURL + path
	c.mu.Unlock()

	var header http.Header
	if auth {
		token, err := c.creds.Token()
		if err != nil {
			return err
		}
		header = http.Header{"Authorization": []string{token.AccessToken}}
	}

	status, body, err := c.session.Do(ctx, method, endpoint, header, req)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apiErrorFromBody(status, body)
	}
	if out == nil {
		return nil
	}
	if err := decodeJSON(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) hasAccount() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account != nil
}

func (c *Client) setAccount(wire accountWire) Account {
	account := wire.account()
	c.registry.Register(wire.devices())

	c.mu.Lock()
	c.account = &account
	if account.Email != "" {
		c.email = account.Email
	}
	c.mu.Unlock()
	return account
}

func (c *Client) persist(ctx context.Context) {
	if c.saver == nil {
		return
	}
	c.mu.Lock()
	email := c.email
	c.mu.Unlock()

	state := session.State{
		SchemaVersion: session.SchemaVersion,
		Email:         email,
		RefreshToken:  c.creds.RefreshToken(),
	}
	if err := c.saver.Save(ctx, state); err != nil {
		c.log.Warn().Err(err).Msg("persist session state")
	}
}
