package bridair

import (
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"

	haplog "github.com/brutella/hap/log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"crypto/tls"
	"net/url"

	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"
)

var (
	ErrPutTimeout       = fmt.Errorf("characteristic write timeout")
	ErrAlreadyConnected = fmt.Errorf("already connected")
)

const (
	DEFAULT_TOPIC_PREFIX = "brid/"

	// Store name for persisting raw characteristic state
	BRID_STATE_STORE = "brid_state"

	// Store name for server PIN code
	BRID_PIN_STORE = "brid_pin"

	// timeout for characteristic writes, including set_mode
	BRID_PUT_TIMEOUT = 3 * time.Second

	// how long discovery must be quiet before the HAP server is started
	DISCOVERY_SETTLE_TIME = 5 * time.Second
)

// show more messages for developers
const BRIDGE_DEVMODE = false

// set_mode command payload
type setModeCommand struct {
	EntityID string `json:"entity_id"`
	Mode     any    `json:"mode"`
}

// Raw characteristic values of a binding, keyed by characteristic type
type bindingState map[string]any

type Bridge struct {
	// MQTT broker and credentials
	Server   string
	Username string
	Password string

	// prefix of all topics, must end with a /
	TopicPrefix string

	// address and interfaces to bind to
	ListenAddr string
	Interfaces []string

	DebugMode bool
	QuietMode bool

	// optional sink for numeric readings
	History HistoryWriter

	ctx        context.Context
	bridgeAcc  *accessory.Bridge
	dispatcher *Dispatcher

	server *hap.Server
	store  hap.Store
	pin    string

	// serializes message handling and guards the fields below
	mu         sync.Mutex
	savedState map[string]map[string]bindingState // serial -> unique id -> state
	mirrors    map[string]*mirrorAccessory
	lastAdded  time.Time

	// last value written to History, per binding
	lastReading map[Binding]float64

	// set_mode payloads waiting for setModeWorker, in delivery order
	setModeMu    sync.Mutex
	setModeQueue [][]byte
	setModeWake  chan struct{}

	configuredOnce sync.Once
	configuredCh   chan struct{}

	mqttClient mqtt.Client
}

// Creates and initializes a Bridge.
func NewBridge(ctx context.Context, storeDir string) *Bridge {
	br := &Bridge{
		ctx:         ctx,
		store:       hap.NewFsStore(storeDir),
		TopicPrefix: DEFAULT_TOPIC_PREFIX,

		savedState:   make(map[string]map[string]bindingState),
		mirrors:      make(map[string]*mirrorAccessory),
		lastReading:  make(map[Binding]float64),
		configuredCh: make(chan struct{}),
		setModeWake:  make(chan struct{}, 1),
	}

	br.dispatcher = NewDispatcher(br)
	go br.setModeWorker()

	br.bridgeAcc = accessory.NewBridge(accessory.Info{
		Name:         "Brid Bridge",
		Manufacturer: "bridair",
	})

	return br
}

func (br *Bridge) Dispatcher() *Dispatcher { return br.dispatcher }

// Sets the PIN code for the HAP server.
// If the given pin is empty, it will be read from the store, or failing that,
// one will be generated
func (br *Bridge) SetPin(pin string) (string, error) {
	// if PIN was not explicitly specified, we re-use the existing one from store
	if pin == "" {
		if storePin, err := br.store.Get(BRID_PIN_STORE); err == nil {
			pin = string(storePin)
		}
	}

	savePin := pin == ""

	if pin == "" {
		for {
			rnd, err := rand.Int(rand.Reader, big.NewInt(99999999+1))
			if err != nil {
				return "", fmt.Errorf("can't generate PIN: %v", err)
			}

			// pad if necessary
			pin = rnd.Text(10) + "00000000"
			pin = pin[:8]

			// ensure it's not an insecure PIN
			if !hap.InvalidPins[pin] {
				break
			}
		}
	} else if hap.InvalidPins[pin] {
		return "", fmt.Errorf("insecure pin %s", pin)
	}

	// persist the PIN
	if savePin {
		br.store.Set(BRID_PIN_STORE, []byte(pin))
	}

	br.pin = pin
	return pin, nil
}

// Returns the PIN
func (br *Bridge) GetPin() string { return br.pin }

// Builds the mirror accessories and calls ListenAndServe().
// ListenAndServe() will block until the context is cancelled
func (br *Bridge) StartHAP() error {
	if br.bridgeAcc == nil {
		return fmt.Errorf("bridge accessory not created yet")
	}

	defer br.shutdown()

	// initialize PIN, either from store or dynamically generated
	if br.pin == "" {
		if _, err := br.SetPin(""); err != nil {
			return err
		}
	}

	acc := br.buildMirrors()
	if len(acc) == 0 {
		return fmt.Errorf("no devices to serve")
	}

	var err error
	br.server, err = hap.NewServer(br.store, br.bridgeAcc.A, acc...)
	if err != nil {
		return err
	}

	br.server.Pin = br.pin

	br.server.Addr = br.ListenAddr
	br.server.Ifaces = br.Interfaces

	if br.DebugMode {
		haplog.Debug.Enable()
	}

	return br.server.ListenAndServe(br.ctx)
}

// Disconnects from MQTT, closes History and flushes state to disk
func (br *Bridge) shutdown() {
	if br.mqttClient != nil {
		br.mqttClient.Disconnect(1000)
	}

	if br.History != nil {
		br.History.Close()
	}

	if err := br.saveState(); err != nil {
		log.Printf("cannot persist state: %s", err)
	}
}

// Creates a mirror accessory for every device with bindings
func (br *Bridge) buildMirrors() []*accessory.A {
	br.mu.Lock()
	defer br.mu.Unlock()

	var acc []*accessory.A
	for _, dev := range br.dispatcher.Devices() {
		m := newMirrorAccessory(dev, br.setModeFromHomeKit)
		br.mirrors[dev.Serial] = m
		acc = append(acc, m.A)

		if br.DebugMode {
			if s, err := dumpAccessory(m.A); err == nil {
				log.Printf("mirroring %s %s: %s", dev.Serial, m, s)
			}
		}
	}
	return acc
}

func (br *Bridge) setModeFromHomeKit(m *ModeSensor, mode any) error {
	ctx, cancel := context.WithTimeout(br.ctx, BRID_PUT_TIMEOUT)
	defer cancel()

	if err := m.SetMode(ctx, mode); err != nil {
		return err
	}

	// called from the HAP server, so take the lock for publishing
	go func() {
		br.mu.Lock()
		defer br.mu.Unlock()
		br.bindingsUpdated([]Binding{m})
	}()
	return nil
}

// Waits until the first bindings have been created, and discovery has been
// quiet for DISCOVERY_SETTLE_TIME.
// Returns early with the context error if it is cancelled.
func (br *Bridge) WaitConfigured(ctx context.Context) error {
	select {
	case <-br.configuredCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		br.mu.Lock()
		wait := DISCOVERY_SETTLE_TIME - time.Since(br.lastAdded)
		br.mu.Unlock()

		if wait <= 0 {
			return nil
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Return number of devices with bindings.
func (br *Bridge) NumDevices() int {
	return len(br.dispatcher.Devices())
}

// Connects to the MQTT server.
// Blocks until the connection is established, then auto-reconnect logic takes over
func (br *Bridge) ConnectMQTT() error {
	if br.mqttClient != nil && br.mqttClient.IsConnected() {
		return ErrAlreadyConnected
	}

	opts := mqtt.NewClientOptions().
		AddBroker(br.Server).
		SetUsername(br.Username).
		SetPassword(br.Password).
		SetClientID("bridair").
		SetDialer(&net.Dialer{KeepAlive: -1}).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(2 * time.Second).
		SetConnectRetry(true)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Printf("connected to MQTT broker")

		tok := c.Subscribe(br.TopicPrefix+"#", 0, br.handleMqttMessage)
		if tok.Wait() && tok.Error() != nil {
			log.Fatal(tok.Error())
		}

		log.Printf("subscribed to MQTT topic")
	})

	opts.SetConnectionAttemptHandler(func(broker *url.URL, cfg *tls.Config) *tls.Config {
		log.Printf("connecting to MQTT %s...", broker)
		return cfg
	})

	br.mqttClient = mqtt.NewClient(opts)

	if tok := br.mqttClient.Connect(); tok.Wait() && tok.Error() != nil {
		return tok.Error()
	}

	return nil
}

// Load the raw binding state from hap.Store.
// If the state was blank or not found, a nil error will be returned.
func (br *Bridge) loadState() error {
	state, err := br.store.Get(BRID_STATE_STORE)
	if err != nil || len(state) == 0 {
		return nil
	}

	var saved map[string]map[string]bindingState
	if err := json.Unmarshal(state, &saved); err != nil {
		return err
	}

	br.mu.Lock()
	defer br.mu.Unlock()

	for serial, s := range saved {
		// keep state of devices seen since startup
		if _, exists := br.savedState[serial]; exists {
			log.Printf("skipping %s, newer data is available", serial)
			continue
		}
		br.savedState[serial] = s
	}
	return nil
}

// Persists the raw binding state into hap.Store
// State of devices not seen since startup is carried over.
func (br *Bridge) saveState() error {
	br.mu.Lock()
	defer br.mu.Unlock()

	for _, dev := range br.dispatcher.Devices() {
		devState := make(map[string]bindingState)
		for _, b := range dev.Bindings {
			if raw := b.RawValues(); len(raw) > 0 {
				devState[b.UniqueID()] = raw
			}
		}
		if len(devState) > 0 {
			br.savedState[dev.Serial] = devState
		}
	}

	// return early if there was nothing to persist
	if len(br.savedState) == 0 {
		return nil
	}

	allJson, err := json.Marshal(br.savedState)
	if err != nil {
		return err
	}

	return br.store.Set(BRID_STATE_STORE, allJson)
}

// Loads persisted state. Called before connecting.
func (br *Bridge) LoadState() error { return br.loadState() }

func (br *Bridge) handleMqttMessage(_ mqtt.Client, msg mqtt.Message) {
	topic, payload := msg.Topic(), msg.Payload()

	// check for topic prefix and remove it
	if !strings.HasPrefix(topic, br.TopicPrefix) {
		return
	}
	topic = strings.TrimPrefix(topic, br.TopicPrefix)

	if br.DebugMode {
		log.Printf("received %s: %s", topic, payload)
	}

	// writes wait on a publish token, which can't complete while
	// this callback is blocked, so they are handed to setModeWorker
	if topic == "set_mode" {
		br.queueSetMode(payload)
		return
	}

	// everything else is applied in delivery order
	br.mu.Lock()
	defer br.mu.Unlock()

	if err := br.handleMessage(topic, payload); err != nil {
		log.Printf("error handling %s: %v", topic, err)
	}
}

// Handles a message with the topic prefix removed.
// must be called with br.mu held
func (br *Bridge) handleMessage(topic string, payload []byte) error {
	if topic == "discovery" {
		var rec DiscoveryRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("unable to parse discovery record: %w", err)
		}

		bindings, err := br.dispatcher.Discover(rec)
		if errors.Is(err, ErrUnknownAccessory) {
			log.Printf("queueing %s discovery for %s until accessories are known", rec.DeviceType, rec.Serial)
			return nil
		} else if err != nil {
			return err
		}

		br.bindingsAdded(bindings)
		return nil
	}

	serial, kind, found := strings.Cut(topic, "/")
	if !found || serial == "" {
		return nil
	}

	switch kind {
	case "accessories":
		accs, err := ParseAccessories(serial, payload)
		if err != nil {
			return fmt.Errorf("unable to parse accessories of %s: %w", serial, err)
		}

		bindings, err := br.dispatcher.AddAccessories(serial, accs)
		br.bindingsAdded(bindings)
		return err

	case "event":
		chars, err := ParseCharacteristicEvent(payload)
		if err != nil {
			return fmt.Errorf("unable to parse event of %s: %w", serial, err)
		}

		updated := br.dispatcher.HandleEvent(serial, chars)
		if len(updated) == 0 && (br.DebugMode || BRIDGE_DEVMODE) {
			log.Printf("event for unknown characteristics of %q", serial)
		}
		br.bindingsUpdated(updated)

	case "removed":
		removed := br.dispatcher.Remove(serial)
		for _, b := range removed {
			br.publish(br.stateTopic(b), true, nil)
			delete(br.lastReading, b)
		}
		delete(br.savedState, serial)
		delete(br.mirrors, serial)

		if len(removed) > 0 {
			log.Printf("removed %d bindings of %s", len(removed), serial)
		}
	}

	// own /put messages and unknown topics are ignored
	return nil
}

// must be called with br.mu held
func (br *Bridge) bindingsAdded(bindings []Binding) {
	if len(bindings) == 0 {
		return
	}

	for _, b := range bindings {
		// restore last known state, unless the accessory database had a value
		if b.RawValues() == nil {
			for ctype, raw := range br.savedState[b.Accessory().Serial][b.UniqueID()] {
				b.ApplyUpdate(ctype, raw)
			}
		}

		log.Printf("added %s (%s)", b.EntityID(), b.Name())
	}

	br.bindingsUpdated(bindings)

	br.lastAdded = time.Now()
	br.configuredOnce.Do(func() { close(br.configuredCh) })
}

// Publishes, mirrors and records the state of updated bindings.
// must be called with br.mu held
func (br *Bridge) bindingsUpdated(bindings []Binding) {
	now := time.Now()

	for _, b := range bindings {
		state := StateString(b)

		if br.DebugMode || (!br.QuietMode && BRIDGE_DEVMODE) {
			log.Printf("state of %s is %q", b.EntityID(), state)
		}

		br.publish(br.stateTopic(b), true, []byte(state))

		if m := br.mirrors[b.Accessory().Serial]; m != nil {
			m.sync(b)
		}

		if br.History != nil {
			f, ok := valToFloat64(b.DisplayState())
			if last, seen := br.lastReading[b]; ok && (!seen || last != f) {
				br.History.WriteReading(b, f, now)
				br.lastReading[b] = f
			}
		}
	}
}

func (br *Bridge) queueSetMode(payload []byte) {
	br.setModeMu.Lock()
	br.setModeQueue = append(br.setModeQueue, payload)
	br.setModeMu.Unlock()

	select {
	case br.setModeWake <- struct{}{}:
	default:
	}
}

// Handles queued set_mode commands one at a time, in delivery order,
// until the bridge context is cancelled.
func (br *Bridge) setModeWorker() {
	for {
		select {
		case <-br.setModeWake:
		case <-br.ctx.Done():
			return
		}

		for {
			br.setModeMu.Lock()
			if len(br.setModeQueue) == 0 {
				br.setModeMu.Unlock()
				break
			}
			payload := br.setModeQueue[0]
			br.setModeQueue = br.setModeQueue[1:]
			br.setModeMu.Unlock()

			br.handleSetMode(payload)
		}
	}
}

func (br *Bridge) handleSetMode(payload []byte) {
	var cmd setModeCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.Printf("unable to parse set_mode command: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(br.ctx, BRID_PUT_TIMEOUT)
	defer cancel()

	if err := br.SetMode(ctx, cmd.EntityID, cmd.Mode); err != nil {
		log.Printf("set_mode %s failed: %v", cmd.EntityID, err)
	}
}

// Sets the mode of the purifier entity and publishes the new state.
// An unknown entity id returns ErrUnknownEntity.
func (br *Bridge) SetMode(ctx context.Context, entityID string, mode any) error {
	m, err := br.dispatcher.SetMode(ctx, entityID, mode)
	if err != nil {
		return err
	}

	if br.DebugMode {
		log.Printf("set mode of %s to %v", entityID, mode)
	}

	br.mu.Lock()
	defer br.mu.Unlock()
	br.bindingsUpdated([]Binding{m})
	return nil
}

// Publishes characteristic writes for the accessory, and waits for the
// broker to accept them.
func (br *Bridge) PutCharacteristics(ctx context.Context, serial string, writes []CharacteristicWrite) error {
	if br.mqttClient == nil {
		return fmt.Errorf("not connected to MQTT")
	}

	payload, err := json.Marshal(characteristicsEnvelope[CharacteristicWrite]{writes})
	if err != nil {
		return err
	}

	topic := br.TopicPrefix + serial + "/put"
	if br.DebugMode {
		log.Printf("publishing %s: %s", topic, payload)
	}

	tok := br.mqttClient.Publish(topic, 1, false, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", ErrPutTimeout, serial, ctx.Err())
	}
}

func (br *Bridge) stateTopic(b Binding) string {
	return br.TopicPrefix + b.Accessory().Serial + "/" + b.UniqueID() + "/state"
}

// Publish to the MQTT broker without waiting; a no-op until connected.
func (br *Bridge) publish(topic string, retained bool, payload []byte) {
	if br.mqttClient == nil {
		return
	}
	br.mqttClient.Publish(topic, 0, retained, payload)
}
