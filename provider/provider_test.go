package provider

import "testing"

func TestUnmarshalHTTPProvider_Basic(t *testing.T) {
	data := []byte(`{"provider_type":"http","name":"h","http_method":"POST","url":"http://example.com","content_type":"application/json"}`)
	p, err := UnmarshalHTTPProvider(data)
	if err != nil {
		t.Fatalf("unmarshal err: %v", err)
	}
	if p.ProviderKind() != KindHTTP {
		t.Fatalf("kind mismatch")
	}
	if p.HTTPMethod != "POST" || p.URL != "http://example.com" {
		t.Fatalf("field mismatch: %+v", p)
	}
}

func TestUnmarshalHTTPProvider_WithAuth(t *testing.T) {
	data := []byte(`{"provider_type":"http","name":"h","url":"http://x","auth":{"auth_type":"basic","username":"u","password":"p"}}`)
	p, err := UnmarshalHTTPProvider(data)
	if err != nil {
		t.Fatalf("unmarshal err: %v", err)
	}
	if p.Auth == nil || p.Auth.Type() != "basic" {
		t.Fatalf("auth not decoded: %+v", p.Auth)
	}
}

func TestUnmarshal_Dispatch(t *testing.T) {
	cases := []struct {
		data []byte
		kind Kind
	}{
		{[]byte(`{"provider_type":"http","name":"a","url":"http://x"}`), KindHTTP},
		{[]byte(`{"provider_type":"cli","name":"b","command":"echo"}`), KindCLI},
		{[]byte(`{"provider_type":"websocket","name":"c","url":"ws://x"}`), KindWebSocket},
		{[]byte(`{"provider_type":"grpc","name":"d","host":"h","port":1,"service_name":"s","method_name":"m"}`), KindGRPC},
		{[]byte(`{"provider_type":"graphql","name":"e","url":"http://x"}`), KindGraphQL},
		{[]byte(`{"provider_type":"mcp","name":"f","url":"http://x"}`), KindMCP},
		{[]byte(`{"provider_type":"tcp","name":"g","host":"h","port":1}`), KindTCP},
		{[]byte(`{"provider_type":"udp","name":"i","host":"h","port":1}`), KindUDP},
		{[]byte(`{"provider_type":"webrtc","name":"j","signaling_server":"http://x","peer_id":"p"}`), KindWebRTC},
	}
	for _, c := range cases {
		p, err := Unmarshal(c.data)
		if err != nil {
			t.Fatalf("unmarshal %s: %v", c.kind, err)
		}
		if p.ProviderKind() != c.kind {
			t.Fatalf("kind mismatch: got %s want %s", p.ProviderKind(), c.kind)
		}
	}
}

func TestUnmarshal_UnknownKind(t *testing.T) {
	if _, err := Unmarshal([]byte(`{"provider_type":"carrier-pigeon","name":"x"}`)); err == nil {
		t.Fatal("expected error for unknown provider_type")
	}
}

func TestUnmarshalWebRTCProvider_WithICEServersAndInlineTools(t *testing.T) {
	data := []byte(`{"provider_type":"webrtc","name":"j","signaling_server":"http://x","peer_id":"p",
		"ice_servers":[{"urls":["stun:stun.example.com:3478"]}],
		"tools":[{"name":"echo"}]}`)
	p, err := UnmarshalWebRTCProvider(data)
	if err != nil {
		t.Fatalf("unmarshal err: %v", err)
	}
	if len(p.ICEServers) != 1 || p.ICEServers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("ice servers not decoded: %+v", p.ICEServers)
	}
	if len(p.Tools) != 1 || p.Tools[0]["name"] != "echo" {
		t.Fatalf("inline tools not decoded: %+v", p.Tools)
	}
}

func TestUnmarshalWebRTCProvider_RejectsNonListTools(t *testing.T) {
	data := []byte(`{"provider_type":"webrtc","name":"j","signaling_server":"http://x","peer_id":"p","tools":"nope"}`)
	if _, err := UnmarshalWebRTCProvider(data); err == nil {
		t.Fatal("expected rejection of non-list tools field")
	}
}

func TestUnmarshalWebRTCProvider_RejectsNonMapToolsElements(t *testing.T) {
	data := []byte(`{"provider_type":"webrtc","name":"j","signaling_server":"http://x","peer_id":"p","tools":[1,2,3]}`)
	if _, err := UnmarshalWebRTCProvider(data); err == nil {
		t.Fatal("expected rejection of non-map tools elements")
	}
}

func TestUnmarshalList(t *testing.T) {
	data := []byte(`[{"provider_type":"http","name":"a","url":"http://x"},{"provider_type":"cli","name":"b","command":"echo"}]`)
	ps, err := UnmarshalList(data)
	if err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(ps) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(ps))
	}
}
