// Package conn turns operator supplied endpoints into validated connection
// descriptors. Nothing here touches the network.
package conn

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"fleetman.io/fleetman/internal/option"
)

const (
	DefaultScheme = "mysql"
	schemeSep     = "://"
)

// SSL modes understood by the instance connections.
const (
	SSLModeDisabled       = "DISABLED"
	SSLModePreferred      = "PREFERRED"
	SSLModeRequired       = "REQUIRED"
	SSLModeVerifyCA       = "VERIFY_CA"
	SSLModeVerifyIdentity = "VERIFY_IDENTITY"
)

// Descriptor describes how to reach one server. A validated descriptor always
// has a non-empty Host and a Port in [1, 65535]; Port 0 means "not given".
type Descriptor struct {
	Scheme   string `json:"scheme,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"-"`
	Host     string `json:"host"`
	Port     int    `json:"port"`

	SSLMode string `json:"sslMode,omitempty"`
	SSLCA   string `json:"sslCa,omitempty"`
	SSLCert string `json:"sslCert,omitempty"`
	SSLKey  string `json:"sslKey,omitempty"`
}

// Endpoint is the host:port form, brackets included for IPv6 literals.
func (d Descriptor) Endpoint() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Key identifies the server for deduplication: (host, port) with the host
// in lower case.
func (d Descriptor) Key() string {
	return net.JoinHostPort(strings.ToLower(d.Host), strconv.Itoa(d.Port))
}

func (d Descriptor) SameServer(o Descriptor) bool {
	return d.Key() == o.Key()
}

// String renders the descriptor as a URI without the password.
func (d Descriptor) String() string {
	var sb strings.Builder
	if d.Scheme != "" {
		sb.WriteString(d.Scheme)
		sb.WriteString(schemeSep)
	}
	if d.User != "" {
		sb.WriteString(url.User(d.User).String())
		sb.WriteByte('@')
	}
	if d.Port != 0 {
		sb.WriteString(d.Endpoint())
	} else if strings.Contains(d.Host, ":") {
		sb.WriteString("[" + d.Host + "]")
	} else {
		sb.WriteString(d.Host)
	}
	return sb.String()
}

// WithCredentials fills user and password unless the descriptor carries its
// own.
func (d Descriptor) WithCredentials(user, password string) Descriptor {
	if d.User == "" {
		d.User = user
		if d.Password == "" {
			d.Password = password
		}
	}
	return d
}

// Validate accepts an URI-like string or a map of connection attributes.
func Validate(raw option.Value) (Descriptor, error) {
	var d Descriptor
	var err error
	switch raw.Kind() {
	case option.String:
		s, _ := raw.AsString()
		d, err = ParseURI(s)
	case option.Map:
		m, _ := raw.AsMap()
		d, err = FromMap(m)
	default:
		return Descriptor{}, option.Errorf("connection data must be a string or a map, got %s", raw.Kind())
	}
	if err != nil {
		return Descriptor{}, err
	}
	return ValidateDescriptor(d)
}

// ValidateEndpoint is Validate for the common host:port string case.
func ValidateEndpoint(endpoint string) (Descriptor, error) {
	return Validate(option.NewString(endpoint))
}

// ValidateDescriptor checks an already typed descriptor. Ports are never
// defaulted here; callers wanting a default must set it beforehand.
func ValidateDescriptor(d Descriptor) (Descriptor, error) {
	d.Host = strings.TrimSpace(d.Host)
	if d.Host == "" {
		return Descriptor{}, option.Errorf("host cannot be empty")
	}
	if d.Port == 0 {
		return Descriptor{}, option.Errorf("port is missing")
	}
	if d.Port < 0 || d.Port > 65535 {
		return Descriptor{}, option.Errorf("port %d is out of range", d.Port)
	}
	if d.Scheme != "" && d.Scheme != DefaultScheme {
		return Descriptor{}, option.Errorf("invalid scheme '%s', only '%s' is supported", d.Scheme, DefaultScheme)
	}
	if d.SSLMode != "" {
		mode, err := normalizeSSLMode(d.SSLMode)
		if err != nil {
			return Descriptor{}, err
		}
		d.SSLMode = mode
	}
	return d, nil
}

// ParseURI parses [scheme://][user[:password]@]host[:port][?ssl-mode=...].
// Only syntax is checked; a missing host or port is left to validation.
func ParseURI(s string) (Descriptor, error) {
	s = strings.TrimSpace(s)
	raw := s
	if !strings.Contains(raw, schemeSep) {
		raw = DefaultScheme + schemeSep + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Descriptor{}, option.Errorf("invalid URI '%s': %v", s, unwrapURLError(err))
	}
	if u.Path != "" && u.Path != "/" {
		return Descriptor{}, option.Errorf("invalid URI '%s': schema paths are not supported", s)
	}

	d := Descriptor{Host: u.Hostname()}
	if strings.Contains(s, schemeSep) {
		d.Scheme = u.Scheme
	}
	if u.User != nil {
		d.User = u.User.Username()
		d.Password, _ = u.User.Password()
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return Descriptor{}, option.Errorf("invalid port '%s'", p)
		}
		if port == 0 {
			return Descriptor{}, option.Errorf("port 0 is out of range")
		}
		d.Port = port
	}
	for k, vs := range u.Query() {
		if len(vs) == 0 {
			continue
		}
		if err := d.setAttribute(k, vs[len(vs)-1]); err != nil {
			return Descriptor{}, err
		}
	}
	return d, nil
}

// FromMap builds a descriptor from a {host, port, user, ...} map.
func FromMap(m map[string]option.Value) (Descriptor, error) {
	var d Descriptor
	for k, v := range m {
		switch normalizeKey(k) {
		case "port":
			port, err := portValue(v)
			if err != nil {
				return Descriptor{}, err
			}
			d.Port = port
		default:
			s, ok := v.AsString()
			if !ok {
				return Descriptor{}, option.Errorf("connection option '%s' must be a string", k)
			}
			if err := d.setAttribute(k, s); err != nil {
				return Descriptor{}, err
			}
		}
	}
	return d, nil
}

func (d *Descriptor) setAttribute(key, value string) error {
	switch normalizeKey(key) {
	case "scheme":
		d.Scheme = value
	case "host":
		d.Host = value
	case "user":
		d.User = value
	case "password":
		d.Password = value
	case "sslmode":
		d.SSLMode = value
	case "sslca":
		d.SSLCA = value
	case "sslcert":
		d.SSLCert = value
	case "sslkey":
		d.SSLKey = value
	case "port":
		port, err := portValue(option.NewString(value))
		if err != nil {
			return err
		}
		d.Port = port
	default:
		return option.Errorf("invalid connection option '%s'", key)
	}
	return nil
}

func portValue(v option.Value) (int, error) {
	if i, ok := v.AsInt(); ok {
		if i <= 0 || i > 65535 {
			return 0, option.Errorf("port %d is out of range", i)
		}
		return int(i), nil
	}
	if s, ok := v.AsString(); ok {
		port, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, option.Errorf("invalid port '%s'", s)
		}
		return portValue(option.NewInt(int64(port)))
	}
	return 0, option.Errorf("port must be an integer, got %s", v.Kind())
}

// ssl-mode, sslMode and ssl_mode are the same thing
func normalizeKey(k string) string {
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "-", "")
	return strings.ReplaceAll(k, "_", "")
}

func normalizeSSLMode(mode string) (string, error) {
	m := strings.ToUpper(strings.ReplaceAll(mode, "-", "_"))
	switch m {
	case SSLModeDisabled, SSLModePreferred, SSLModeRequired, SSLModeVerifyCA, SSLModeVerifyIdentity:
		return m, nil
	}
	return "", option.Errorf("invalid ssl-mode '%s'", mode)
}

func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err
	}
	return err
}
