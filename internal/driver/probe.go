package driver

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/yndnr/querydeck-go/internal/gateway"
)

// TCPProbe checks that the endpoint accepts connections. It is used for
// kinds without a native driver.
type TCPProbe struct {
	Timeout time.Duration
}

func (p *TCPProbe) Open(ctx context.Context, t Target) (Session, error) {
	d := net.Dialer{Timeout: p.Timeout}
	addr := net.JoinHostPort(t.Endpoint.Host, strconv.Itoa(t.Endpoint.Port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	conn.Close()

	return &probeSession{info: map[string]string{
		"host":     t.Endpoint.Host,
		"port":     strconv.Itoa(t.Endpoint.Port),
		"database": t.Endpoint.Database,
		"mode":     "probe",
	}}, nil
}

type probeSession struct {
	info map[string]string
}

func (s *probeSession) Info() map[string]string { return s.info }

func (s *probeSession) Schema(context.Context) ([]gateway.Table, error) {
	return []gateway.Table{}, nil
}

func (s *probeSession) Query(context.Context, string) (*gateway.QueryResult, error) {
	return nil, ErrQueryUnavailable
}

func (s *probeSession) Close() error { return nil }
