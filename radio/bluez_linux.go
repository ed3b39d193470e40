//go:build linux

package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	dbus "github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"peerlink/models"
	"peerlink/network"
)

const (
	bluezService         = "org.bluez"
	profileInterfaceName = "org.bluez.Profile1"
	profileManagerIface  = "org.bluez.ProfileManager1"
	deviceIface          = "org.bluez.Device1"
	adapterIface         = "org.bluez.Adapter1"
	objManagerIface      = "org.freedesktop.DBus.ObjectManager"
	propsIface           = "org.freedesktop.DBus.Properties"
)

var profilePathCounter uint64

// BlueZ is a Provider backed by the BlueZ D-Bus API on the system bus.
// Pairing relies on an agent registered outside this process.
type BlueZ struct {
	bus     *dbus.Conn
	adapter dbus.ObjectPath
	log     *zap.Logger

	mu       sync.Mutex
	handlers map[int]func(Event)
	nextID   int
	closed   bool
	cleanup  []func()

	signals chan *dbus.Signal
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewBlueZ connects to the system bus and binds the first adapter.
func NewBlueZ(logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connect system bus: %v", network.ErrProviderUnavailable, err)
	}

	adapters, err := listAdapters(bus)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	if len(adapters) == 0 {
		_ = bus.Close()
		return nil, fmt.Errorf("%w: no bluetooth adapter", network.ErrProviderUnavailable)
	}

	b := &BlueZ{
		bus:      bus,
		adapter:  adapters[0],
		log:      logger.With(zap.String("adapter", string(adapters[0]))),
		handlers: make(map[int]func(Event)),
		signals:  make(chan *dbus.Signal, 64),
		done:     make(chan struct{}),
	}
	b.cleanup = append(b.cleanup, func() { _ = bus.Close() })

	matches := [][]dbus.MatchOption{
		{dbus.WithMatchInterface(objManagerIface), dbus.WithMatchMember("InterfacesAdded")},
		{dbus.WithMatchInterface(propsIface), dbus.WithMatchMember("PropertiesChanged"), dbus.WithMatchPathNamespace(b.adapter)},
	}
	for _, match := range matches {
		if err := bus.AddMatchSignal(match...); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("add match signal: %w", err)
		}
		match := match
		b.cleanup = append(b.cleanup, func() { _ = bus.RemoveMatchSignal(match...) })
	}
	bus.Signal(b.signals)
	b.cleanup = append(b.cleanup, func() { bus.RemoveSignal(b.signals) })

	b.wg.Add(1)
	go b.signalLoop()
	return b, nil
}

// Availability implements Provider.
func (b *BlueZ) Availability() network.Availability {
	powered, err := b.adapterBool("Powered")
	if err != nil {
		return network.AvailabilityUnsupported
	}
	if !powered {
		return network.AvailabilityOff
	}
	return network.AvailabilityOn
}

// Discoverable implements Provider.
func (b *BlueZ) Discoverable() bool {
	discoverable, err := b.adapterBool("Discoverable")
	return err == nil && discoverable
}

// Subscribe implements Provider.
func (b *BlueZ) Subscribe(handler func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
		})
	}
}

// StartDiscovery implements Provider.
func (b *BlueZ) StartDiscovery() error {
	return b.bus.Object(bluezService, b.adapter).Call(adapterIface+".StartDiscovery", 0).Err
}

// CancelDiscovery implements Provider.
func (b *BlueZ) CancelDiscovery() error {
	return b.bus.Object(bluezService, b.adapter).Call(adapterIface+".StopDiscovery", 0).Err
}

// BondedPeers implements Provider.
func (b *BlueZ) BondedPeers() ([]models.Peer, error) {
	objects, err := managedObjects(b.bus)
	if err != nil {
		return nil, err
	}

	var peers []models.Peer
	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), string(b.adapter)+"/") {
			continue
		}
		props, ok := ifaces[deviceIface]
		if !ok || !variantBool(props["Paired"]) {
			continue
		}
		if peer, ok := peerFromProps(path, props); ok {
			peers = append(peers, peer)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers, nil
}

// BondState implements Provider.
func (b *BlueZ) BondState(peerID string) BondState {
	var paired dbus.Variant
	call := b.device(peerID).Call(propsIface+".Get", 0, deviceIface, "Paired")
	if call.Err != nil || call.Store(&paired) != nil {
		return BondNone
	}
	if variantBool(paired) {
		return BondBonded
	}
	return BondNone
}

// CreateBond implements Provider. Device1.Pair blocks until pairing settles,
// so it runs in the background and reports through EventBondState.
func (b *BlueZ) CreateBond(peerID string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return network.ErrClosed
	}
	b.wg.Add(1)
	b.mu.Unlock()

	peer := models.Peer{ID: peerID, Name: peerID}
	b.emit(Event{Kind: EventBondState, Peer: peer, Bond: BondBonding})
	go func() {
		defer b.wg.Done()
		err := b.device(peerID).Call(deviceIface+".Pair", 0).Err
		state := BondBonded
		if err != nil && !isDBusError(err, "org.bluez.Error.AlreadyExists") {
			b.log.Warn("pair failed", zap.String("peer", peerID), zap.Error(err))
			state = BondNone
		}
		b.emit(Event{Kind: EventBondState, Peer: peer, Bond: state})
	}()
	return nil
}

// Listen implements Provider by registering a server-role Profile1.
func (b *BlueZ) Listen(ctx context.Context, serviceName, serviceUUID string) (network.Listener, error) {
	prof, release, err := b.registerProfile("server", serviceUUID, map[string]dbus.Variant{
		"Name":                  dbus.MakeVariant(serviceName),
		"Role":                  dbus.MakeVariant("server"),
		"RequireAuthentication": dbus.MakeVariant(false),
		"RequireAuthorization":  dbus.MakeVariant(false),
	})
	if err != nil {
		return nil, err
	}
	return &profileListener{prof: prof, release: release}, nil
}

// Dial implements Provider by registering a client-role Profile1 and asking
// the device to connect it. The profile stays registered until the stream
// closes.
func (b *BlueZ) Dial(ctx context.Context, peerID, serviceUUID string) (io.ReadWriteCloser, error) {
	prof, release, err := b.registerProfile("client", serviceUUID, map[string]dbus.Variant{
		"Role": dbus.MakeVariant("client"),
	})
	if err != nil {
		return nil, err
	}

	if call := b.device(peerID).CallWithContext(ctx, deviceIface+".ConnectProfile", 0, serviceUUID); call.Err != nil {
		release()
		return nil, fmt.Errorf("connect profile: %w", call.Err)
	}

	select {
	case res := <-prof.ch:
		return &profileStream{File: os.NewFile(uintptr(res.fd), "rfcomm"), release: release}, nil
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}
}

// Close releases the bus connection and stops signal delivery.
func (b *BlueZ) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cleanup := b.cleanup
	b.cleanup = nil
	b.mu.Unlock()

	close(b.done)
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	b.wg.Wait()
	return nil
}

func (b *BlueZ) signalLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case sig, ok := <-b.signals:
			if !ok {
				return
			}
			if sig != nil {
				b.handleSignal(sig)
			}
		}
	}
}

func (b *BlueZ) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case objManagerIface + ".InterfacesAdded":
		if len(sig.Body) < 2 {
			return
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		if props, ok := ifaces[deviceIface]; ok {
			if peer, ok := peerFromProps(path, props); ok {
				b.emit(Event{Kind: EventPeerFound, Peer: peer})
			}
		}
	case propsIface + ".PropertiesChanged":
		if len(sig.Body) < 2 {
			return
		}
		iface, _ := sig.Body[0].(string)
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		switch iface {
		case adapterIface:
			if v, ok := changed["Discovering"]; ok && !variantBool(v) {
				b.emit(Event{Kind: EventDiscoveryFinished})
			}
		case deviceIface:
			b.handleDeviceChange(sig.Path, changed)
		}
	}
}

func (b *BlueZ) handleDeviceChange(path dbus.ObjectPath, changed map[string]dbus.Variant) {
	mac := macFromPath(path)
	if mac == "" {
		return
	}
	peer := models.Peer{ID: mac, Name: mac}

	if v, ok := changed["Paired"]; ok {
		state := BondNone
		if variantBool(v) {
			state = BondBonded
		}
		b.emit(Event{Kind: EventBondState, Peer: peer, Bond: state})
	}
	if v, ok := changed["Connected"]; ok && !variantBool(v) {
		b.emit(Event{Kind: EventLinkDisconnected, Peer: peer})
	}
	_, rssi := changed["RSSI"]
	_, name := changed["Name"]
	if rssi || name {
		var props map[string]dbus.Variant
		call := b.bus.Object(bluezService, path).Call(propsIface+".GetAll", 0, deviceIface)
		if call.Err == nil && call.Store(&props) == nil {
			if found, ok := peerFromProps(path, props); ok {
				b.emit(Event{Kind: EventPeerFound, Peer: found})
			}
		}
	}
}

func (b *BlueZ) emit(event Event) {
	b.mu.Lock()
	handlers := make([]func(Event), 0, len(b.handlers))
	for _, handler := range b.handlers {
		handlers = append(handlers, handler)
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func (b *BlueZ) device(peerID string) dbus.BusObject {
	path := dbus.ObjectPath(string(b.adapter) + "/dev_" + strings.ReplaceAll(strings.ToUpper(peerID), ":", "_"))
	return b.bus.Object(bluezService, path)
}

func (b *BlueZ) adapterBool(property string) (bool, error) {
	var v dbus.Variant
	call := b.bus.Object(bluezService, b.adapter).Call(propsIface+".Get", 0, adapterIface, property)
	if call.Err != nil {
		return false, call.Err
	}
	if err := call.Store(&v); err != nil {
		return false, err
	}
	return variantBool(v), nil
}

func (b *BlueZ) registerProfile(role, serviceUUID string, options map[string]dbus.Variant) (*profile, func(), error) {
	prof := &profile{ch: make(chan acceptResult, 1)}
	id := atomic.AddUint64(&profilePathCounter, 1)
	path := dbus.ObjectPath("/org/peerlink/radio/" + role + "/p" + strconv.FormatUint(id, 10))

	if err := b.bus.Export(prof, path, profileInterfaceName); err != nil {
		return nil, nil, fmt.Errorf("export %s profile: %w", role, err)
	}
	manager := b.bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	if call := manager.Call(profileManagerIface+".RegisterProfile", 0, path, serviceUUID, options); call.Err != nil {
		_ = b.bus.Export(nil, path, profileInterfaceName)
		return nil, nil, fmt.Errorf("register %s profile: %w", role, call.Err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			_ = manager.Call(profileManagerIface+".UnregisterProfile", 0, path).Err
			_ = b.bus.Export(nil, path, profileInterfaceName)
			prof.drain()
		})
	}
	return prof, release, nil
}

// profile implements org.bluez.Profile1 and hands out one connection.
type profile struct {
	mu       sync.Mutex
	ch       chan acceptResult
	accepted bool
}

type acceptResult struct {
	fd  int
	mac string
}

func (p *profile) Release() *dbus.Error { return nil }

func (p *profile) Cancel() *dbus.Error { return nil }

func (p *profile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

func (p *profile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accepted {
		_ = os.NewFile(uintptr(fd), "rfcomm").Close()
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"already accepted"}}
	}
	select {
	case p.ch <- acceptResult{fd: int(fd), mac: macFromPath(dev)}:
		p.accepted = true
		return nil
	default:
		_ = os.NewFile(uintptr(fd), "rfcomm").Close()
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"no receiver"}}
	}
}

// drain closes a delivered but never collected descriptor.
func (p *profile) drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accepted = true
	select {
	case res := <-p.ch:
		_ = os.NewFile(uintptr(res.fd), "rfcomm").Close()
	default:
	}
}

// profileListener owns the server profile until it hands out a connection;
// the accepted stream then keeps the profile registered until it closes.
type profileListener struct {
	prof    *profile
	release func()

	mu       sync.Mutex
	accepted bool
}

func (l *profileListener) Accept(ctx context.Context) (io.ReadWriteCloser, string, error) {
	select {
	case res := <-l.prof.ch:
		l.mu.Lock()
		l.accepted = true
		l.mu.Unlock()
		return &profileStream{File: os.NewFile(uintptr(res.fd), "rfcomm"), release: l.release}, res.mac, nil
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func (l *profileListener) Close() error {
	l.mu.Lock()
	accepted := l.accepted
	l.mu.Unlock()
	if !accepted {
		l.release()
	}
	return nil
}

type profileStream struct {
	*os.File
	release func()
}

func (s *profileStream) Close() error {
	err := s.File.Close()
	s.release()
	return err
}

func listAdapters(bus *dbus.Conn) ([]dbus.ObjectPath, error) {
	objects, err := managedObjects(bus)
	if err != nil {
		return nil, err
	}
	var out []dbus.ObjectPath
	for path, ifaces := range objects {
		if _, ok := ifaces[adapterIface]; ok {
			out = append(out, path)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func managedObjects(bus *dbus.Conn) (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := bus.Object(bluezService, dbus.ObjectPath("/")).Call(objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("%w: GetManagedObjects: %v", network.ErrProviderUnavailable, call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("decode GetManagedObjects: %w", err)
	}
	return objects, nil
}

func peerFromProps(path dbus.ObjectPath, props map[string]dbus.Variant) (models.Peer, bool) {
	var mac, name string
	if v, ok := props["Address"]; ok {
		mac, _ = v.Value().(string)
	}
	if mac == "" {
		mac = macFromPath(path)
	}
	if v, ok := props["Name"]; ok {
		name, _ = v.Value().(string)
	}
	if name == "" {
		if v, ok := props["Alias"]; ok {
			name, _ = v.Value().(string)
		}
	}
	if mac == "" || name == "" {
		return models.Peer{}, false
	}
	return models.Peer{ID: mac, Name: name}, true
}

func macFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+5:], "_", ":")
}

func variantBool(v dbus.Variant) bool {
	b, _ := v.Value().(bool)
	return b
}

func isDBusError(err error, name string) bool {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return dbusErr.Name == name
	}
	var dbusErrPtr *dbus.Error
	return errors.As(err, &dbusErrPtr) && dbusErrPtr.Name == name
}
