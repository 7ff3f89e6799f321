package command

import "strings"

// Request carries the connection parameters extracted from connect and the
// subsequent publish/play command.
type Request struct {
	App            string
	TcUrl          string
	PageUrl        string
	SwfUrl         string
	Schema         string
	Host           string
	Vhost          string
	Stream         string
	Port           string
	Param          string
	ObjectEncoding float64
	ClientIP       string
	StreamID       string
}

// StreamKey returns the vhost/app/stream triple identifying a live source,
// case-sensitive and excluding any query string.
func (r *Request) StreamKey() string {
	return r.Vhost + "/" + r.App + "/" + r.Stream
}

// ApplyVhostDefault sets Vhost to Host when no vhost was found in tcUrl.
func (r *Request) ApplyVhostDefault() {
	if r.Vhost == "" {
		r.Vhost = r.Host
	}
}

// ExtractVhost looks for a vhost parameter in the tcUrl's query/fragment
// portion, accepting the four historically-used separator conventions:
// "?vhost=x", ",vhost,x", "...vhost...x", "&&vhost&&x".
func ExtractVhost(tcUrl string) string {
	if v, ok := extractDelimited(tcUrl, "?vhost="); ok {
		return v
	}
	if v, ok := extractDelimited(tcUrl, ",vhost,"); ok {
		return v
	}
	if v, ok := extractDelimited(tcUrl, "...vhost..."); ok {
		return v
	}
	if v, ok := extractDelimited(tcUrl, "&&vhost&&"); ok {
		return v
	}
	return ""
}

func extractDelimited(s, marker string) (string, bool) {
	idx := strings.Index(s, marker)
	if idx < 0 {
		return "", false
	}

	rest := s[idx+len(marker):]

	end := len(rest)
	for i, c := range rest {
		if c == '&' || c == ',' || c == '?' {
			end = i
			break
		}
	}
	if i := strings.Index(rest[:end], "..."); i >= 0 {
		end = i
	}

	return rest[:end], true
}

// ParseTcUrl splits a tcUrl of the form scheme://host[:port]/app into its
// components. It does not validate the scheme.
func ParseTcUrl(tcUrl string) (schema, host, port, app string) {
	schema = "rtmp"
	if idx := strings.Index(tcUrl, "://"); idx >= 0 {
		schema = tcUrl[:idx]
		tcUrl = tcUrl[idx+3:]
	}

	slash := strings.Index(tcUrl, "/")
	hostport := tcUrl
	if slash >= 0 {
		hostport = tcUrl[:slash]
		app = strings.Trim(tcUrl[slash+1:], "/")
	}

	if c := strings.Index(hostport, ":"); c >= 0 {
		host = hostport[:c]
		port = hostport[c+1:]
	} else {
		host = hostport
		port = "1935"
	}

	return schema, host, port, app
}
