package ipintel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"primetrack/pkg/errutil"
)

// Intelligence is the provider's verdict for one IP address.
type Intelligence struct {
	Country      string  `json:"country"`
	City         string  `json:"city"`
	Region       string  `json:"region"`
	ISP          string  `json:"isp"`
	ASN          string  `json:"asn"`
	IsProxy      bool    `json:"is_proxy"`
	IsVpn        bool    `json:"is_vpn"`
	IsTor        bool    `json:"is_tor"`
	IsDatacenter bool    `json:"is_datacenter"`
	FraudScore   float64 `json:"fraud_score"`
}

// Client looks up IP intelligence from an external provider. Callers bound the
// lookup with the request context, a slow provider is treated as absent data.
type Client interface {
	GetIPIntelligence(ctx context.Context, ip string) (*Intelligence, error)
}

type httpClient struct {
	addr   string
	apiKey string
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds an HTTP-backed Client. The transport timeout is a hard
// upper bound, per-call deadlines still come from the caller's context.
func NewClient(addr, apiKey string, timeout time.Duration, logger *zap.Logger) Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &httpClient{
		addr:   addr,
		apiKey: apiKey,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c *httpClient) GetIPIntelligence(ctx context.Context, ip string) (*Intelligence, error) {
	if c.addr == "" {
		return nil, errutil.BadGateway("ip intelligence provider is not configured")
	}

	endpoint := fmt.Sprintf("%s/v1/ip/%s", c.addr, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("ip intelligence provider returned non-200",
			zap.String("ip", ip),
			zap.Int("status", resp.StatusCode))
		return nil, errutil.BadGateway(fmt.Sprintf("ip intelligence provider returned %d", resp.StatusCode))
	}

	var intel Intelligence
	if err := json.NewDecoder(resp.Body).Decode(&intel); err != nil {
		return nil, errutil.BadGateway("failed to decode ip intelligence response")
	}
	return &intel, nil
}
