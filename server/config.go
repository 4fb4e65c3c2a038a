package server

// Config is the JSON config file read at startup.
type Config struct {
	// DataDir holds every on-disk store: user/session/credential files,
	// per-identity cookie jars, and the library database.
	DataDir string   `json:"dataDir"`
	JM      JMConfig `json:"jm"`
}

// JMConfig configures the upstream content service client.
type JMConfig struct {
	APIBase     string `json:"apiBase"`
	AppVersion  string `json:"appVersion"`
	HeaderVer   string `json:"headerVer"`
	InsecureTLS bool   `json:"insecureTLS"` // the upstream's mirrors routinely present mismatched certificates
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.JM.APIBase == "" {
		c.JM.APIBase = "https://www.cdnmhwscc.vip"
	}
	if c.JM.AppVersion == "" {
		c.JM.AppVersion = "1.8.0"
	}
	if c.JM.HeaderVer == "" {
		c.JM.HeaderVer = "1.8.0"
	}
}
