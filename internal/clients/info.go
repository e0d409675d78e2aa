package clients

import "time"

// Info is the registration record a session carries once a client name
// has been assigned to it, the Go rendering of the original server's
// ClientInfo.
type Info struct {
	IP          string
	Port        int
	Name        string
	IsLongConn  bool
	ConnectTime time.Time
}
