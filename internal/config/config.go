package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/viper"
)

const (
	envPrefix = "MULTIFLEXER"

	PolicyPauseUnassigned = "pause-unassigned"
	PolicyAlwaysPlaying   = "always-playing"

	NotifierNone  = "none"
	NotifierNATS  = "nats"
	NotifierRedis = "redis"
)

var DefaultStunServers = []string{
	"stun:stun.l.google.com:19302",
}

type Config struct {
	Signaling SignalingConfig
	Receiver  ReceiverConfig
	Session   SessionConfig
	Registry  RegistryConfig
	Peer      PeerConfig
	RTC       RTCConfig
	Control   ControlConfig
	Notifier  NotifierConfig
	History   HistoryConfig
}

type SignalingConfig struct {
	URL          string
	RoomName     string
	JoinTimeout  time.Duration
	MaxReconnect time.Duration
}

type ReceiverConfig struct {
	Name string
}

type SessionConfig struct {
	ICEGracePeriod time.Duration
	StatsInterval  time.Duration
}

type RegistryConfig struct {
	SwitchCooldown time.Duration
	PlayPolicy     string
}

type RTCConfig struct {
	StunServers       []string
	ICEPortRangeStart uint32
	ICEPortRangeEnd   uint32
}

type ControlConfig struct {
	Address string
}

type NotifierConfig struct {
	Backend   string
	NATSURL   string
	RedisAddr string
}

type HistoryConfig struct {
	DSN string
}

type CodecSpec struct {
	Mime     string
	FmtpLine string
}

type PeerConfig struct {
	EnabledCodecs []CodecSpec
}

type WebRTCConfig struct {
	Configuration webrtc.Configuration
	SettingEngine webrtc.SettingEngine
	Subscriber    DirectionConfig
}

type RTPHeaderExtensionConfig struct {
	Video []string
}

type RTCPFeedbackConfig struct {
	Video []webrtc.RTCPFeedback
}

type DirectionConfig struct {
	RTPHeaderExtension RTPHeaderExtensionConfig
	RTCPFeedback       RTCPFeedbackConfig
}

func NewConfig() *Config {
	conf := &Config{
		Signaling: SignalingConfig{
			URL:          "ws://localhost:3000/ws",
			RoomName:     "main",
			JoinTimeout:  5 * time.Second,
			MaxReconnect: 10 * time.Second,
		},
		Receiver: ReceiverConfig{
			Name: "receiver",
		},
		Session: SessionConfig{
			ICEGracePeriod: 800 * time.Millisecond,
			StatsInterval:  time.Second,
		},
		Registry: RegistryConfig{
			SwitchCooldown: 150 * time.Millisecond,
			PlayPolicy:     PolicyPauseUnassigned,
		},
		RTC: RTCConfig{
			StunServers:       DefaultStunServers,
			ICEPortRangeStart: 50000,
			ICEPortRangeEnd:   60000,
		},
		Peer: PeerConfig{
			EnabledCodecs: []CodecSpec{
				{Mime: webrtc.MimeTypeH264},
				{Mime: webrtc.MimeTypeVP8},
			},
		},
		Control: ControlConfig{
			Address: ":8090",
		},
		Notifier: NotifierConfig{
			Backend:   NotifierNone,
			NATSURL:   "nats://127.0.0.1:4222",
			RedisAddr: "localhost:6379",
		},
	}

	return conf
}

// Load reads the configuration: defaults, then the optional file, then
// MULTIFLEXER_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, NewConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	conf := NewConfig()
	conf.Signaling.URL = v.GetString("signaling.url")
	conf.Signaling.RoomName = v.GetString("signaling.room_name")
	conf.Signaling.JoinTimeout = v.GetDuration("signaling.join_timeout")
	conf.Signaling.MaxReconnect = v.GetDuration("signaling.max_reconnect")
	conf.Receiver.Name = v.GetString("receiver.name")
	conf.Session.ICEGracePeriod = v.GetDuration("session.ice_grace_period")
	conf.Session.StatsInterval = v.GetDuration("session.stats_interval")
	conf.Registry.SwitchCooldown = v.GetDuration("registry.switch_cooldown")
	conf.Registry.PlayPolicy = v.GetString("registry.play_policy")
	conf.RTC.StunServers = v.GetStringSlice("rtc.stun_servers")
	conf.RTC.ICEPortRangeStart = v.GetUint32("rtc.ice_port_range_start")
	conf.RTC.ICEPortRangeEnd = v.GetUint32("rtc.ice_port_range_end")
	conf.Control.Address = v.GetString("control.address")
	conf.Notifier.Backend = v.GetString("notifier.backend")
	conf.Notifier.NATSURL = v.GetString("notifier.nats_url")
	conf.Notifier.RedisAddr = v.GetString("notifier.redis_addr")
	conf.History.DSN = v.GetString("history.dsn")

	if codecs := v.GetStringSlice("peer.codecs"); len(codecs) > 0 {
		conf.Peer.EnabledCodecs = conf.Peer.EnabledCodecs[:0]
		for _, mime := range codecs {
			conf.Peer.EnabledCodecs = append(conf.Peer.EnabledCodecs, CodecSpec{Mime: mime})
		}
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

func setDefaults(v *viper.Viper, conf *Config) {
	v.SetDefault("signaling.url", conf.Signaling.URL)
	v.SetDefault("signaling.room_name", conf.Signaling.RoomName)
	v.SetDefault("signaling.join_timeout", conf.Signaling.JoinTimeout)
	v.SetDefault("signaling.max_reconnect", conf.Signaling.MaxReconnect)
	v.SetDefault("receiver.name", conf.Receiver.Name)
	v.SetDefault("session.ice_grace_period", conf.Session.ICEGracePeriod)
	v.SetDefault("session.stats_interval", conf.Session.StatsInterval)
	v.SetDefault("registry.switch_cooldown", conf.Registry.SwitchCooldown)
	v.SetDefault("registry.play_policy", conf.Registry.PlayPolicy)
	v.SetDefault("rtc.stun_servers", conf.RTC.StunServers)
	v.SetDefault("rtc.ice_port_range_start", conf.RTC.ICEPortRangeStart)
	v.SetDefault("rtc.ice_port_range_end", conf.RTC.ICEPortRangeEnd)
	v.SetDefault("control.address", conf.Control.Address)
	v.SetDefault("notifier.backend", conf.Notifier.Backend)
	v.SetDefault("notifier.nats_url", conf.Notifier.NATSURL)
	v.SetDefault("notifier.redis_addr", conf.Notifier.RedisAddr)
	v.SetDefault("history.dsn", "")
	v.SetDefault("peer.codecs", []string{})
}

func (c *Config) Validate() error {
	switch c.Registry.PlayPolicy {
	case PolicyPauseUnassigned, PolicyAlwaysPlaying:
	default:
		return fmt.Errorf("unknown play policy %q", c.Registry.PlayPolicy)
	}

	switch c.Notifier.Backend {
	case NotifierNone, NotifierNATS, NotifierRedis:
	default:
		return fmt.Errorf("unknown notifier backend %q", c.Notifier.Backend)
	}

	if c.Session.ICEGracePeriod <= 0 {
		return fmt.Errorf("ice grace period must be positive, got %s", c.Session.ICEGracePeriod)
	}
	if c.Registry.SwitchCooldown < 0 {
		return fmt.Errorf("switch cooldown must not be negative, got %s", c.Registry.SwitchCooldown)
	}
	if c.RTC.ICEPortRangeEnd < c.RTC.ICEPortRangeStart {
		return fmt.Errorf("ice port range %d-%d is empty", c.RTC.ICEPortRangeStart, c.RTC.ICEPortRangeEnd)
	}

	return nil
}

func NewWebRTCConfig(config *Config) (*WebRTCConfig, error) {
	c := webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	}
	if len(config.RTC.StunServers) > 0 {
		c.ICEServers = []webrtc.ICEServer{{URLs: config.RTC.StunServers}}
	}

	s := webrtc.SettingEngine{}

	networkTypes := make([]webrtc.NetworkType, 0, 4)
	// Use only UDP
	networkTypes = append(networkTypes,
		webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6,
	)
	if config.RTC.ICEPortRangeStart != 0 && config.RTC.ICEPortRangeEnd != 0 {
		if err := s.SetEphemeralUDPPortRange(uint16(config.RTC.ICEPortRangeStart), uint16(config.RTC.ICEPortRangeEnd)); err != nil {
			return nil, err
		}
	}
	s.SetNetworkTypes(networkTypes)

	// the receiver only ever subscribes to screen video
	subscriberConfig := DirectionConfig{
		RTPHeaderExtension: RTPHeaderExtensionConfig{
			Video: []string{
				sdp.SDESMidURI,
				sdp.SDESRTPStreamIDURI,
				sdp.TransportCCURI,
			},
		},
		RTCPFeedback: RTCPFeedbackConfig{
			Video: []webrtc.RTCPFeedback{
				{Type: webrtc.TypeRTCPFBGoogREMB},
				{Type: webrtc.TypeRTCPFBTransportCC},
				{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
				{Type: webrtc.TypeRTCPFBNACK},
				{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
			},
		},
	}

	return &WebRTCConfig{
		Configuration: c,
		SettingEngine: s,
		Subscriber:    subscriberConfig,
	}, nil
}
