package provider

// UDPProvider describes a UDP socket speaking single-datagram JSON messages.
type UDPProvider struct {
	Base
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Timeout int    `json:"timeout,omitempty"` // milliseconds, default 5000
}

func NewUDPProvider(name, host string, port int) *UDPProvider {
	return &UDPProvider{Base: Base{Name: name, Kind: KindUDP}, Host: host, Port: port, Timeout: 5000}
}
