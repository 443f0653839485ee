package config

import "time"

type Config struct {
	// Baudmode of the external modem: a numeric baud rate or one of
	// the named protocol modes (rtty, tdd, same, ...).
	Baudmode string `yaml:"baudmode"`

	// SearchAudioIn/SearchAudioOut resolve ALSA devices by description
	// text. AudioIn/AudioOut take an explicit "card,device" string and
	// win over the search fields. All empty means the system default.
	SearchAudioIn  string `yaml:"search_alsa_in"`
	SearchAudioOut string `yaml:"search_alsa_out"`
	AudioIn        string `yaml:"alsa_in"`
	AudioOut       string `yaml:"alsa_out"`

	MTU        int     `yaml:"mtu"`
	SyncByte   string  `yaml:"sync_byte"`
	Confidence float64 `yaml:"confidence"`
	Mark       int     `yaml:"mark"`
	Space      int     `yaml:"space"`
	ModemPath  string  `yaml:"modem_path"`

	// Loopback replaces the external processes with an in-memory
	// modem that echoes transmissions back to the receiver. Useful
	// without audio hardware.
	Loopback bool `yaml:"loopback"`

	// Empirically tuned transmit timing. Zero values take the link
	// defaults.
	TxJitterMin    time.Duration `yaml:"tx_jitter_min_ms"`
	TxJitterMax    time.Duration `yaml:"tx_jitter_max_ms"`
	PTTTail        time.Duration `yaml:"ptt_tail_ms"`
	DurationFactor float64       `yaml:"tx_duration_factor"`

	PTT struct {
		Port string `yaml:"port"`
		Line string `yaml:"line"`
	} `yaml:"ptt"`

	StatusServer struct {
		Port int `yaml:"port"`
	} `yaml:"status_server"`

	InfluxDB struct {
		Host         string `yaml:"host"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
}
