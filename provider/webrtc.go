package provider

import (
	"encoding/json"

	"github.com/utcp-go/utcp/utcperr"
)

// ICEServer mirrors one entry of a WebRTC RTCConfiguration's iceServers
// list: a STUN/TURN endpoint plus optional TURN credentials.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// WebRTCProvider describes a peer reachable over a WebRTC data channel.
// Signaling (SDP/ICE exchange) is delegated to an external signaling
// server reachable at SignalingServer; ICEServers seeds the peer
// connection's own ICE configuration, and Tools lets a peer declare its
// tool list inline instead of returning one from the signaling answer.
type WebRTCProvider struct {
	Base
	SignalingServer string                   `json:"signaling_server"`
	PeerID          string                   `json:"peer_id"`
	DataChannelName string                   `json:"data_channel_name"`
	ICEServers      []ICEServer              `json:"ice_servers,omitempty"`
	Tools           []map[string]interface{} `json:"tools,omitempty"`
}

func NewWebRTCProvider(name, signalingServer, peerID string) *WebRTCProvider {
	return &WebRTCProvider{
		Base:            Base{Name: name, Kind: KindWebRTC},
		SignalingServer: signalingServer,
		PeerID:          peerID,
		DataChannelName: "utcp",
	}
}

// UnmarshalWebRTCProvider decodes a WebRTCProvider, validating the inline
// tools field by hand: json.Unmarshal's static typing would reject a
// non-list or non-map-element tools field with a generic type-mismatch
// error, so it's read as json.RawMessage first and re-validated to return
// the same utcperr.InvalidProvider every other boundary check here uses.
func UnmarshalWebRTCProvider(data []byte) (*WebRTCProvider, error) {
	type alias WebRTCProvider
	aux := struct {
		*alias
		Tools json.RawMessage `json:"tools"`
	}{alias: (*alias)(&WebRTCProvider{Base: Base{Kind: KindWebRTC}})}
	if err := json.Unmarshal(data, &aux); err != nil {
		return nil, err
	}
	p := (*WebRTCProvider)(aux.alias)
	if len(aux.Tools) == 0 || string(aux.Tools) == "null" {
		return p, nil
	}
	tools, err := decodeInlineTools(p.Name, aux.Tools)
	if err != nil {
		return nil, err
	}
	p.Tools = tools
	return p, nil
}

func decodeInlineTools(providerName string, raw json.RawMessage) ([]map[string]interface{}, error) {
	var list []interface{}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, &utcperr.InvalidProvider{Name: providerName, Reason: "webrtc tools field must be a list"}
	}
	tools := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, &utcperr.InvalidProvider{Name: providerName, Reason: "webrtc tools list must contain only objects"}
		}
		tools = append(tools, m)
	}
	return tools, nil
}
