package fpa

import (
	"fmt"
	"sync"
)

type deviceRecord struct {
	info              Device
	bottles           []Bottle
	bottleCreationLog []BottleCreationLog
	shadow            *Shadow
}

func (r *deviceRecord) snapshot() Device {
	out := r.info
	out.Bottles = append([]Bottle(nil), r.bottles...)
	out.BottleCreationLog = append([]BottleCreationLog(nil), r.bottleCreationLog...)
	if r.shadow != nil && r.shadow.Valid() {
		state := r.shadow.State()
		out.Shadow = &state
	}
	return out
}

// Registry maps device ids to device records for the life of a Client.
type Registry struct {
	mu      sync.RWMutex
	devices []*deviceRecord
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register replaces the full device list. Devices that were already known
// keep their details, shadow and connectivity.
func (r *Registry) Register(devices []Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]*deviceRecord, 0, len(devices))
	for _, d := range devices {
		if prev := r.lookup(d.DeviceID); prev != nil {
			prev.info.ID = d.ID
			prev.info.Title = d.Title
			prev.info.WifiMACAddress = d.WifiMACAddress
			prev.info.BLEMACAddress = d.BLEMACAddress
			records = append(records, prev)
			continue
		}
		d.HasDetails = false
		d.Connected = false
		d.Bottles = nil
		d.BottleCreationLog = nil
		d.Shadow = nil
		records = append(records, &deviceRecord{info: d})
	}
	r.devices = records
}

// Find returns a snapshot of the device with the given deviceId.
func (r *Registry) Find(deviceID string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.lookup(deviceID)
	if rec == nil {
		return Device{}, &NotFoundError{DeviceID: deviceID}
	}
	return rec.snapshot(), nil
}

func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for _, rec := range r.devices {
		out = append(out, rec.snapshot())
	}
	return out
}

// MarkDetailsLoaded stores bottles and the creation log and seeds a fresh
// shadow from the details snapshot. A malformed snapshot is still stored and
// the device marked as loaded, so later patches merge into it; the
// MalformedShadowError is returned alongside the snapshot.
func (r *Registry) MarkDetailsLoaded(deviceID string, details DeviceDetails) (Device, error) {
	shadow, shadowErr := newShadowFromSnapshot(details.Shadow)
	if shadowErr != nil {
		shadowErr = fmt.Errorf("device %s details: %w", deviceID, shadowErr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.lookup(deviceID)
	if rec == nil {
		return Device{}, &NotFoundError{DeviceID: deviceID}
	}
	rec.bottles = append([]Bottle(nil), details.Bottles...)
	rec.bottleCreationLog = append([]BottleCreationLog(nil), details.BottleCreationLog...)
	rec.shadow = shadow
	rec.info.HasDetails = true
	return rec.snapshot(), shadowErr
}

// SetConnected records the streaming connectivity of a device.
func (r *Registry) SetConnected(deviceID string, connected bool) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.lookup(deviceID)
	if rec == nil {
		return Device{}, &NotFoundError{DeviceID: deviceID}
	}
	rec.info.Connected = connected
	return rec.snapshot(), nil
}

// ApplyShadowPatch merges a patch into the device's shadow.
func (r *Registry) ApplyShadowPatch(deviceID string, patch map[string]any) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.lookup(deviceID)
	if rec == nil {
		return Device{}, &NotFoundError{DeviceID: deviceID}
	}
	if rec.shadow == nil {
		return Device{}, fmt.Errorf("device %s has no details loaded", deviceID)
	}
	if err := rec.shadow.Update(patch); err != nil {
		return Device{}, err
	}
	return rec.snapshot(), nil
}

// Document returns a copy of the device's raw shadow document.
func (r *Registry) Document(deviceID string) (map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.lookup(deviceID)
	if rec == nil {
		return nil, &NotFoundError{DeviceID: deviceID}
	}
	if rec.shadow == nil {
		return nil, nil
	}
	return rec.shadow.Document(), nil
}

func (r *Registry) lookup(deviceID string) *deviceRecord {
	for _, rec := range r.devices {
		if rec.info.DeviceID == deviceID {
			return rec
		}
	}
	return nil
}
