package openapitools

import "github.com/hashicorp/go-plugin"

// Handshake is a shared configuration that's used to verify that both
// the host and the tool server are talking the same protocol.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion: 1,

	// MagicCookieKey and value are used as a basic verification
	// that the server is intended to be launched as a plugin. This is not a
	// security feature, just a UX feature.
	MagicCookieKey:   "ORI_OPENAPI_PLUGIN",
	MagicCookieValue: "ori-openapitools-v1",
}

// PluginName is the key of the tool service in PluginMap.
const PluginName = "tools"

// PluginMap is the map of plugin name to implementation used by hosts.
var PluginMap = map[string]plugin.Plugin{
	PluginName: &ToolRPCPlugin{},
}
