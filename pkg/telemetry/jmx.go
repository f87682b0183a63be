package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cuemby/compactor/pkg/config"
	"github.com/cuemby/compactor/pkg/types"
)

// RegionServerBean is the JMX bean holding region server queue metrics
const RegionServerBean = "Hadoop:service=HBase,name=RegionServer,sub=Server"

// JMXSource reads queue depths from a node's JMX-over-HTTP servlet
type JMXSource struct {
	URL    string
	Client *http.Client
}

type jmxResponse struct {
	Beans []struct {
		CompactionQueueLength int     `json:"compactionQueueLength"`
		FlushQueueLength      int     `json:"flushQueueLength"`
		PercentFilesLocal     float64 `json:"percentFilesLocal"`
	} `json:"beans"`
}

// Read fetches the region server bean
func (s *JMXSource) Read(ctx context.Context) (Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return Reading{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return Reading{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Reading{}, fmt.Errorf("unexpected HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var body jmxResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Reading{}, fmt.Errorf("failed to decode jmx response: %w", err)
	}
	if len(body.Beans) == 0 {
		return Reading{}, errors.New("jmx response contains no region server bean")
	}

	b := body.Beans[0]
	return Reading{
		CompactionQueueLength: b.CompactionQueueLength,
		FlushQueueLength:      b.FlushQueueLength,
		PercentFilesLocal:     b.PercentFilesLocal,
	}, nil
}

// Close implements Source
func (s *JMXSource) Close() error {
	s.Client.CloseIdleConnections()
	return nil
}

// JMXURL builds the bean query URL for a node. The info port comes from
// cfg.Ports keyed by the node's serving port, falling back to cfg.InfoPort.
func JMXURL(cfg config.TelemetryConfig, node types.NodeID) (string, error) {
	host, portStr, err := net.SplitHostPort(string(node))
	if err != nil {
		return "", fmt.Errorf("invalid node address %s: %w", node, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("invalid node port %s: %w", node, err)
	}

	infoPort := cfg.InfoPort
	if p, ok := cfg.Ports[port]; ok {
		infoPort = p
	}

	u := url.URL{
		Scheme:   cfg.Scheme,
		Host:     net.JoinHostPort(host, strconv.Itoa(infoPort)),
		Path:     "/jmx",
		RawQuery: "qry=" + RegionServerBean,
	}
	return u.String(), nil
}

// NewJMXSourceFunc opens JMX sources sharing one HTTP client
func NewJMXSourceFunc(cfg config.TelemetryConfig) SourceFunc {
	client := &http.Client{Timeout: cfg.Timeout}
	return func(node types.NodeID) Source {
		u, err := JMXURL(cfg, node)
		if err != nil {
			return failedSource{err: err}
		}
		return &JMXSource{URL: u, Client: client}
	}
}

type failedSource struct {
	err error
}

func (s failedSource) Read(context.Context) (Reading, error) { return Reading{}, s.err }
func (s failedSource) Close() error                          { return nil }
