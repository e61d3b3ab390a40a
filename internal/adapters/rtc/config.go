package rtc

import "github.com/pion/webrtc/v4"

// ICEConfig lists the STUN/TURN servers used by peer-to-peer sessions.
type ICEConfig struct {
	STUNURLs []string `mapstructure:"stun_urls"`
	TURNURLs []string `mapstructure:"turn_urls"`
	Username string   `mapstructure:"turn_username"`
	Password string   `mapstructure:"turn_password"`
}

func DefaultICEConfig() ICEConfig {
	return ICEConfig{STUNURLs: []string{"stun:stun.l.google.com:19302"}}
}

// Configuration builds the pion configuration. Relayed sessions reach the
// media server directly and use no ICE servers.
func (c ICEConfig) Configuration(relayed bool) webrtc.Configuration {
	if relayed {
		return webrtc.Configuration{}
	}
	var servers []webrtc.ICEServer
	if len(c.STUNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUNURLs})
	}
	if len(c.TURNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:           c.TURNURLs,
			Username:       c.Username,
			Credential:     c.Password,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}
