package fpa

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Account is the logged-in user.
type Account struct {
	Email     string
	FirstName string
	LastName  string
}

// Device is a snapshot of one appliance on the account.
type Device struct {
	ID             string
	DeviceID       string
	Title          string
	WifiMACAddress string
	BLEMACAddress  string

	HasDetails bool
	Connected  bool

	Bottles           []Bottle
	BottleCreationLog []BottleCreationLog
	// Shadow is nil until details are loaded.
	Shadow *ShadowState
}

// Formula is the powder configured for a bottle preset.
type Formula struct {
	Territory string `json:"territory"`
	Brand     string `json:"brand"`
	Type      string `json:"type"`
	Stage     string `json:"stage"`
	Setting   int    `json:"setting"`
	Model     string `json:"model"`
	Density   string `json:"density"`
}

func (f Formula) String() string {
	return f.Brand + " " + f.Type
}

// Bottle is a saved bottle preset.
type Bottle struct {
	ID          int      `json:"id"`
	Title       string   `json:"title"`
	Temperature int      `json:"temperature"`
	Powder      int      `json:"powder"`
	Volume      int      `json:"volume"`
	VolumeUnit  string   `json:"volumeUnit"`
	WaterOnly   bool     `json:"waterOnly"`
	Formula     *Formula `json:"formula,omitempty"`
}

// BottleCreationLog records one bottle the appliance made.
type BottleCreationLog struct {
	ID                  int    `json:"id"`
	Volume              int    `json:"volume"`
	VolumeUnit          string `json:"volumeUnit"`
	Temperature         int    `json:"temperature"`
	BottleID            int    `json:"bottleId"`
	PowderSetting       int    `json:"powderSetting"`
	WaterOnly           bool   `json:"waterOnly"`
	CompletionTimestamp string `json:"completionTimestamp"`
}

// DeviceDetails is the payload of the device details endpoint.
type DeviceDetails struct {
	Bottles           []Bottle            `json:"bottles"`
	BottleCreationLog []BottleCreationLog `json:"bottleCreationLog"`
	Shadow            map[string]any      `json:"shadow"`
}

func (d DeviceDetails) validate() error {
	if d.Bottles == nil {
		return fmt.Errorf("details missing bottles")
	}
	if d.BottleCreationLog == nil {
		return fmt.Errorf("details missing bottleCreationLog")
	}
	if d.Shadow == nil {
		return fmt.Errorf("details missing shadow")
	}
	return nil
}

type deviceWire struct {
	ID             string `json:"id"`
	DeviceID       string `json:"deviceId"`
	Title          string `json:"title"`
	WifiMACAddress string `json:"wifiMacAddress"`
	BLEMACAddress  string `json:"bleMacAddress"`
}

func (d deviceWire) toDevice() Device {
	return Device{
		ID:             d.ID,
		DeviceID:       d.DeviceID,
		Title:          d.Title,
		WifiMACAddress: d.WifiMACAddress,
		BLEMACAddress:  d.BLEMACAddress,
	}
}

type accountWire struct {
	Email     string       `json:"email"`
	FirstName string       `json:"firstName"`
	LastName  string       `json:"lastName"`
	Devices   []deviceWire `json:"devices"`
}

func (a accountWire) validate() error {
	if a.Devices == nil {
		return fmt.Errorf("account missing devices")
	}
	for i, d := range a.Devices {
		if d.DeviceID == "" {
			return fmt.Errorf("device %d missing deviceId", i)
		}
	}
	return nil
}

func (a accountWire) account() Account {
	return Account{Email: a.Email, FirstName: a.FirstName, LastName: a.LastName}
}

func (a accountWire) devices() []Device {
	out := make([]Device, 0, len(a.Devices))
	for _, d := range a.Devices {
		out = append(out, d.toDevice())
	}
	return out
}

type tokensWire struct {
	RefreshToken string `json:"refreshToken"`
	Token        string `json:"token"`
}

func (t tokensWire) validate() error {
	if t.Token == "" {
		return fmt.Errorf("response missing token")
	}
	if t.RefreshToken == "" {
		return fmt.Errorf("response missing refreshToken")
	}
	return nil
}

type loginWire struct {
	tokensWire
	accountWire
}

type infoWire struct {
	API        string `json:"api"`
	Websockets string `json:"websockets"`
}

// envelope is one inbound streaming frame.
type envelope struct {
	Subject string          `json:"subject"`
	Body    json.RawMessage `json:"body"`
}

const subjectShadowUpdate = "shadow-update"

func decodeJSON(data []byte, out any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("empty body")
	}
	return json.Unmarshal(data, out)
}
