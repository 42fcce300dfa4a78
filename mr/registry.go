package mr

import "sync"

// DeviceID identifies a device in the per-device resource registry.
type DeviceID int

// deviceRegistry maps devices to the resource used when callers do not pass
// one explicitly.
type deviceRegistry struct {
	mu        sync.Mutex
	current   DeviceID
	resources map[DeviceID]Resource
	initial   func(DeviceID) Resource
	initials  map[DeviceID]Resource // built by initial, one per device
}

var registry = deviceRegistry{
	resources: make(map[DeviceID]Resource),
	initials:  make(map[DeviceID]Resource),
}

// lookup must be called with reg.mu held.
func (reg *deviceRegistry) lookup(id DeviceID) Resource {
	if r, ok := reg.resources[id]; ok {
		return r
	}
	if r, ok := reg.initials[id]; ok {
		return r
	}
	if reg.initial == nil {
		return nil
	}
	r := reg.initial(id)
	if r != nil {
		reg.initials[id] = r
	}
	return r
}

// SetCurrentDevice selects the device CurrentDeviceResource refers to.
func SetCurrentDevice(id DeviceID) {
	registry.mu.Lock()
	registry.current = id
	registry.mu.Unlock()
}

// CurrentDevice returns the device selected by SetCurrentDevice, zero by
// default.
func CurrentDevice() DeviceID {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return registry.current
}

// SetInitialResource installs the factory that supplies a device's resource
// until one is set explicitly. The factory runs at most once per device and
// is called with the registry locked, so it must not use the registry.
// Replacing the factory drops resources it already built.
func SetInitialResource(fn func(DeviceID) Resource) {
	registry.mu.Lock()
	registry.initial = fn
	clear(registry.initials)
	registry.mu.Unlock()
}

// PerDeviceResource returns the resource for device id. Without an explicit
// resource it falls back to the initial factory, and returns nil when there
// is none.
func PerDeviceResource(id DeviceID) Resource {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return registry.lookup(id)
}

// SetPerDeviceResource replaces the resource for device id and returns the
// previous one. A nil r restores the initial resource.
//
// The registry does not own r. Replacing an entry never closes it, and r
// must outlive every allocation made through it.
func SetPerDeviceResource(id DeviceID, r Resource) (prev Resource) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	prev = registry.lookup(id)
	if r == nil {
		delete(registry.resources, id)
	} else {
		registry.resources[id] = r
	}
	return prev
}

// CurrentDeviceResource returns the resource for the current device.
func CurrentDeviceResource() Resource {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return registry.lookup(registry.current)
}

// SetCurrentDeviceResource replaces the resource for the current device and
// returns the previous one.
func SetCurrentDeviceResource(r Resource) (prev Resource) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	prev = registry.lookup(registry.current)
	if r == nil {
		delete(registry.resources, registry.current)
	} else {
		registry.resources[registry.current] = r
	}
	return prev
}
