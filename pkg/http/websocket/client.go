package websocket

import (
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/fluxcd/deployer/pkg/output"
)

type DialErr struct {
	URL          *url.URL
	HTTPResponse *http.Response
}

func (de DialErr) Error() string {
	if de.URL != nil && de.HTTPResponse != nil {
		return fmt.Sprintf("connecting to websocket %s (http status code = %v)", de.URL, de.HTTPResponse.StatusCode)
	}
	return "connecting to websocket (unknown error)"
}

// Dial initiates a new websocket connection.
func Dial(client *http.Client, ua string, u *url.URL) (*websocket.Conn, error) {
	// Build the http request
	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "constructing request %s", u)
	}

	// Send version in user-agent
	req.Header.Set("User-Agent", ua)

	conn, resp, err := dialer(client).Dial(u.String(), req.Header)
	if err != nil {
		if resp != nil {
			err = &DialErr{u, resp}
		}
		return nil, err
	}
	return conn, nil
}

func dialer(client *http.Client) *websocket.Dialer {
	return &websocket.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			return net.DialTimeout(network, addr, client.Timeout)
		},
		HandshakeTimeout: client.Timeout,
		Jar:              client.Jar,
	}
}

// Follow reads entries from the connection and gives them to fn,
// until the output's close entry arrives or the server goes away.
func Follow(conn *websocket.Conn, fn func(output.Entry) error) error {
	for {
		var e output.Entry
		if err := conn.ReadJSON(&e); err != nil {
			if IsExpectedWSCloseError(err) {
				return nil
			}
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		if e.Kind == output.Close {
			return nil
		}
	}
}
