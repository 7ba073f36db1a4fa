package device

// Kind is the closed set of stream-source variants. The variant is chosen
// once at construction time.
type Kind int

const (
	KindCamera Kind = iota
	KindDoorbell
	KindPackageCamera
)

func (k Kind) String() string {
	switch k {
	case KindDoorbell:
		return "doorbell"
	case KindPackageCamera:
		return "package camera"
	default:
		return "camera"
	}
}

// Capabilities are the device flags the session negotiator consults.
type Capabilities struct {
	HasMicrophone bool
	HasSpeaker    bool
	TwoWayAudio   bool
}

// Hints are per-variant streaming adjustments applied by the orchestrator.
type Hints struct {
	// Flashlight means a low-light stream should toggle the device light on
	// for the stream's duration (and back off at teardown).
	Flashlight bool
}

// Device is one camera-like endpoint exposed by the controller.
type Device struct {
	ID       string
	Name     string
	Kind     Kind
	Caps     Capabilities
	Profiles []StreamProfile

	online bool
}

// NewDevice builds a device of the given variant with its profiles sorted.
func NewDevice(id, name string, kind Kind, caps Capabilities, profiles []StreamProfile) *Device {
	SortProfiles(profiles)
	return &Device{
		ID:       id,
		Name:     name,
		Kind:     kind,
		Caps:     caps,
		Profiles: profiles,
		online:   true,
	}
}

// IsOnline reports device reachability as last published by the controller.
func (d *Device) IsOnline() bool {
	return d.online
}

// SetOnline records a reachability change from the controller.
func (d *Device) SetOnline(online bool) {
	d.online = online
}

// Hints returns the variant's streaming adjustments.
func (d *Device) Hints() Hints {
	return Hints{Flashlight: d.Kind == KindPackageCamera}
}

// FindStreamProfile selects the best source profile for a request.
// Transcoding sessions bias toward the highest quality input; stream-copy
// sessions want the closest match to the requested resolution.
func (d *Device) FindStreamProfile(width, height, fps uint, transcoding bool) *StreamProfile {
	if transcoding {
		return SelectHighest(d.Profiles)
	}
	return SelectExact(d.Profiles, width, height, fps)
}

// Controller is the narrow surface of the external device/controller client
// the streaming core consumes. Login, bootstrap, and event plumbing live
// behind it.
type Controller interface {
	// EnableSourceChannel makes sure the chosen channel is active on the
	// device before a stream is opened against it.
	EnableSourceChannel(deviceID, channel string) error
	// TalkbackEndpoint returns the device's return-audio endpoint, or an
	// error when the controller cannot provide one.
	TalkbackEndpoint(deviceID string) (string, error)
	// SetFlashlight toggles the device light. Used as a stream side effect
	// on package cameras; every toggle applied at stream start is reversed
	// at teardown.
	SetFlashlight(deviceID string, on bool) error
}
