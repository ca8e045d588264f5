package transfer

import "time"

// Config holds the timing and pacing of the transfer engine.
type Config struct {
	HeaderTimeout      time.Duration `yaml:"headerTimeout"`
	PacketTimeout      time.Duration `yaml:"packetTimeout"`
	IdleWindow         time.Duration `yaml:"idleWindow"`
	StreamStartTimeout time.Duration `yaml:"streamStartTimeout"`
	StreamIdle         time.Duration `yaml:"streamIdle"`

	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	HandshakeRetries int           `yaml:"handshakeRetries"`
	WaitTimeout      time.Duration `yaml:"waitTimeout"`
	MaxWaits         int           `yaml:"maxWaits"`
	NakRetries       int           `yaml:"nakRetries"`

	OpenLoopPacing time.Duration `yaml:"openLoopPacing"`
	MinPacing      time.Duration `yaml:"minPacing"`
	NameSettle     time.Duration `yaml:"nameSettle"`
	SettleDelay    time.Duration `yaml:"settleDelay"`

	KeepAliveInterval time.Duration `yaml:"keepAliveInterval"`

	// SampleTurboCeiling caps the link multiplier during sample transfers,
	// BulkTurboCeiling during other dumps.
	SampleTurboCeiling float64 `yaml:"sampleTurboCeiling"`
	BulkTurboCeiling   float64 `yaml:"bulkTurboCeiling"`
	// FastPathTurbo is the negotiated multiplier from which RX decodes into
	// a pre-sized buffer.
	FastPathTurbo float64 `yaml:"fastPathTurbo"`

	InboxSize  int   `yaml:"inboxSize"`
	FrameLimit int64 `yaml:"frameLimit"`
}

// DefaultConfig returns timings that suit a DIN MIDI link.
func DefaultConfig() Config {
	return Config{
		HeaderTimeout:      2 * time.Second,
		PacketTimeout:      time.Second,
		IdleWindow:         500 * time.Millisecond,
		StreamStartTimeout: 30 * time.Second,
		StreamIdle:         2 * time.Second,
		HandshakeTimeout:   100 * time.Millisecond,
		HandshakeRetries:   3,
		WaitTimeout:        2 * time.Second,
		MaxWaits:           10,
		NakRetries:         5,
		OpenLoopPacing:     50 * time.Millisecond,
		MinPacing:          5 * time.Millisecond,
		NameSettle:         50 * time.Millisecond,
		SettleDelay:        250 * time.Millisecond,
		KeepAliveInterval:  250 * time.Millisecond,
		SampleTurboCeiling: 4,
		BulkTurboCeiling:   8,
		FastPathTurbo:      2,
		InboxSize:          512,
		FrameLimit:         4096,
	}
}

// WithDefaults fills zero fields from DefaultConfig. Pacing, settle and
// keepalive durations may legitimately be zero and are left alone.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.HeaderTimeout <= 0 {
		c.HeaderTimeout = d.HeaderTimeout
	}
	if c.PacketTimeout <= 0 {
		c.PacketTimeout = d.PacketTimeout
	}
	if c.IdleWindow <= 0 {
		c.IdleWindow = d.IdleWindow
	}
	if c.StreamStartTimeout <= 0 {
		c.StreamStartTimeout = d.StreamStartTimeout
	}
	if c.StreamIdle <= 0 {
		c.StreamIdle = d.StreamIdle
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.HandshakeRetries <= 0 {
		c.HandshakeRetries = d.HandshakeRetries
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = d.WaitTimeout
	}
	if c.MaxWaits <= 0 {
		c.MaxWaits = d.MaxWaits
	}
	if c.NakRetries <= 0 {
		c.NakRetries = d.NakRetries
	}
	if c.OpenLoopPacing <= 0 {
		c.OpenLoopPacing = d.OpenLoopPacing
	}
	if c.MinPacing < 0 {
		c.MinPacing = 0
	}
	if c.SampleTurboCeiling < 1 {
		c.SampleTurboCeiling = d.SampleTurboCeiling
	}
	if c.BulkTurboCeiling < 1 {
		c.BulkTurboCeiling = d.BulkTurboCeiling
	}
	if c.FastPathTurbo <= 0 {
		c.FastPathTurbo = d.FastPathTurbo
	}
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
	if c.FrameLimit <= 0 {
		c.FrameLimit = d.FrameLimit
	}
	return c
}
