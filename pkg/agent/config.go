package agent

import "encoding/json"

// Config is the daemon configuration, filled from CLI flags.
type Config struct {
	// DataDir holds the badger database with device metadata.
	DataDir string
	// DevicesConfig is the devices.yml path watched for declarations.
	DevicesConfig string
	// CaptureServer is the host:port of the remote capture server, if
	// one is in use.
	CaptureServer string
}

// DevicesConfig is the shape of devices.yml.
type DevicesConfig struct {
	Devices []DeviceDecl `json:"devices"`
}

// DeviceDecl declares one device the session should construct.
type DeviceDecl struct {
	Class  string          `json:"class"`
	Params json.RawMessage `json:"params"`
}
