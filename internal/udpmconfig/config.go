// Package udpmconfig loads transport construction parameters from a
// config file, environment variables, or a udpm:// URL, the way
// firestige-Otus/internal/config loads its GlobalConfig via viper and
// mapstructure tags.
package udpmconfig

import (
	"fmt"
	"net/netip"
	"net/url"
	"strconv"

	"github.com/spf13/viper"

	"github.com/zcmgo/udpm/internal/logging"
	"github.com/zcmgo/udpm/transport"
)

// File mirrors the top-level YAML/env-mappable configuration for a
// transport instance.
type File struct {
	Group               string         `mapstructure:"group"`
	Port                uint16         `mapstructure:"port"`
	TTL                 int            `mapstructure:"ttl"`
	Interface           string         `mapstructure:"interface"`
	RecvBufferBytes     int            `mapstructure:"recv_buffer_bytes"`
	RingBufferSize      int            `mapstructure:"ring_buffer_size"`
	MaxFragBufTotalSize int            `mapstructure:"max_frag_buf_total_size"`
	MaxNumFragBufs      int            `mapstructure:"max_num_frag_bufs"`
	ChannelMaxLen       int            `mapstructure:"channel_max_len"`
	ShortMessageMaxSize int            `mapstructure:"short_message_max_size"`
	FragmentMaxPayload  int            `mapstructure:"fragment_max_payload"`
	Log                 logging.Config `mapstructure:"log"`
}

// Load reads configuration from path (YAML, TOML, or JSON, inferred from
// extension) overlaid with UDPM_-prefixed environment variables, and
// converts it to a transport.Config.
func Load(path string) (transport.Config, File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("UDPM")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return transport.Config{}, File{}, fmt.Errorf("udpmconfig: read config: %w", err)
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return transport.Config{}, File{}, fmt.Errorf("udpmconfig: unmarshal: %w", err)
	}

	cfg, err := f.ToTransportConfig()
	return cfg, f, err
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ttl", 0)
	v.SetDefault("ring_buffer_size", transport.DefaultRingBufferSize)
	v.SetDefault("max_frag_buf_total_size", transport.DefaultMaxFragBufTotalSize)
	v.SetDefault("max_num_frag_bufs", transport.DefaultMaxNumFragBufs)
	v.SetDefault("channel_max_len", transport.DefaultChannelMaxLen)
	v.SetDefault("short_message_max_size", transport.DefaultShortMessageMaxSize)
	v.SetDefault("fragment_max_payload", transport.DefaultFragmentMaxPayload)
	v.SetDefault("log.level", "info")
}

// ToTransportConfig converts the loaded file into a transport.Config,
// resolving the Group string to a netip.Addr.
func (f File) ToTransportConfig() (transport.Config, error) {
	group, err := netip.ParseAddr(f.Group)
	if err != nil {
		return transport.Config{}, fmt.Errorf("udpmconfig: parse group %q: %w", f.Group, err)
	}
	return transport.Config{
		Group:               group,
		Port:                f.Port,
		TTL:                 f.TTL,
		Interface:           f.Interface,
		RecvBufferBytes:     f.RecvBufferBytes,
		RingBufferSize:      f.RingBufferSize,
		MaxFragBufTotalSize: f.MaxFragBufTotalSize,
		MaxNumFragBufs:      f.MaxNumFragBufs,
		ChannelMaxLen:       f.ChannelMaxLen,
		ShortMessageMaxSize: f.ShortMessageMaxSize,
		FragmentMaxPayload:  f.FragmentMaxPayload,
	}, nil
}

// ParseURL parses a udpm://group:port?ttl=N&recv_buffer_bytes=N
// construction URL, the way original_source/zcm's Params parses a
// host:port?option=value transport URL out of band between cooperating
// processes.
func ParseURL(raw string) (transport.Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return transport.Config{}, fmt.Errorf("udpmconfig: parse url: %w", err)
	}
	host := u.Hostname()
	group, err := netip.ParseAddr(host)
	if err != nil {
		return transport.Config{}, fmt.Errorf("udpmconfig: parse group %q: %w", host, err)
	}

	port := uint16(0)
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return transport.Config{}, fmt.Errorf("udpmconfig: parse port %q: %w", p, err)
		}
		port = uint16(n)
	}

	cfg := transport.DefaultConfig()
	cfg.Group = group
	cfg.Port = port

	q := u.Query()
	if ttl := q.Get("ttl"); ttl != "" {
		n, err := strconv.Atoi(ttl)
		if err != nil {
			return transport.Config{}, fmt.Errorf("udpmconfig: parse ttl %q: %w", ttl, err)
		}
		cfg.TTL = n
	}
	if iface := q.Get("interface"); iface != "" {
		cfg.Interface = iface
	}
	if rb := q.Get("recv_buffer_bytes"); rb != "" {
		n, err := strconv.Atoi(rb)
		if err != nil {
			return transport.Config{}, fmt.Errorf("udpmconfig: parse recv_buffer_bytes %q: %w", rb, err)
		}
		cfg.RecvBufferBytes = n
	}
	return cfg, nil
}
