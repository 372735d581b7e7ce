package control

import (
	"fmt"
	"strings"
)

// Protocol tags the dialect spoken to a server. The server-side path
// syntax is selected separately by Server.Type.
type Protocol int

const (
	ProtocolFTP Protocol = iota
	ProtocolSFTP
)

// ServerType selects the server-side path syntax.
type ServerType int

const (
	ServerTypeUnix ServerType = iota
	ServerTypeDOS
)

// EncodingType is a server's text-encoding preference.
type EncodingType int

const (
	// EncodingAuto prefers UTF-8 but allows falling back when the server
	// sends invalid sequences.
	EncodingAuto EncodingType = iota

	// EncodingUTF8 forces UTF-8; no fallback.
	EncodingUTF8

	// EncodingCustom uses a named code page instead of UTF-8.
	EncodingCustom
)

// Server describes one remote endpoint. It is a value type; the lock
// manager relies on Equal to group connections to the same server.
type Server struct {
	Host string
	Port int

	User string
	Pass string

	Protocol Protocol
	Type     ServerType

	Encoding       EncodingType
	CustomEncoding string

	BypassProxy bool
}

// Equal reports whether two descriptors address the same server account.
func (s Server) Equal(o Server) bool {
	return strings.EqualFold(s.Host, o.Host) &&
		s.Port == o.Port &&
		s.User == o.User &&
		s.Protocol == o.Protocol
}

// FormatHost renders the endpoint for user messages.
func (s Server) FormatHost() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
