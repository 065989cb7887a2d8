package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nozo-moto/pingzilla/pkg/types"
	"github.com/pion/stun/v3"
	"go.uber.org/multierr"
)

// DefaultIdentityURLs are tried in order. Both return the IP together with
// country and ISP in JSON.
var DefaultIdentityURLs = []string{
	"http://ip-api.com/json/?fields=status,message,country,countryCode,city,isp,query",
	"https://ipapi.co/json/",
}

var DefaultSTUNServers = []string{
	"stun.l.google.com:19302",
	"stun.cloudflare.com:3478",
}

// Source fetches the current public network identity.
type Source interface {
	Fetch(ctx context.Context) (types.IPInfo, error)
}

type SourceFunc func(ctx context.Context) (types.IPInfo, error)

func (f SourceFunc) Fetch(ctx context.Context) (types.IPInfo, error) { return f(ctx) }

// HTTPSource queries JSON identity services, falling through the URL list
// until one answers with an IP.
type HTTPSource struct {
	URLs   []string
	Client *http.Client
}

func NewHTTPSource(urls []string) *HTTPSource {
	if len(urls) == 0 {
		urls = DefaultIdentityURLs
	}
	return &HTTPSource{
		URLs:   urls,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context) (types.IPInfo, error) {
	var lastErr error
	for _, url := range s.URLs {
		info, err := s.fetchOne(ctx, url)
		if err == nil {
			return info, nil
		}
		lastErr = fmt.Errorf("%s: %w", url, err)
	}
	if lastErr == nil {
		lastErr = errors.New("no identity urls configured")
	}
	return types.IPInfo{}, lastErr
}

func (s *HTTPSource) fetchOne(ctx context.Context, url string) (types.IPInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.IPInfo{}, err
	}
	req.Header.Set("User-Agent", "pingzilla/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return types.IPInfo{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.IPInfo{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.IPInfo{}, fmt.Errorf("http status %d", resp.StatusCode)
	}

	return parseIdentity(body)
}

func parseIdentity(body []byte) (types.IPInfo, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.IPInfo{}, err
	}

	// ip-api reports failures in-band
	if status := pickString(raw, "status"); status == "fail" {
		return types.IPInfo{}, fmt.Errorf("identity service: %s", pickString(raw, "message"))
	}
	if pickString(raw, "error") == "true" {
		return types.IPInfo{}, fmt.Errorf("identity service: %s", pickString(raw, "reason", "message"))
	}

	info := types.IPInfo{
		IP:          pickString(raw, "query", "ip", "ip_address"),
		Country:     pickString(raw, "country_name", "country"),
		CountryCode: strings.ToUpper(pickString(raw, "countryCode", "country_code", "cc")),
		City:        pickString(raw, "city"),
		ISP:         pickString(raw, "isp", "org", "asn_org"),
	}
	if info.IP == "" {
		return types.IPInfo{}, errors.New("missing ip field in identity response")
	}
	return info, nil
}

func pickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case bool:
			if v {
				return "true"
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// STUNSource learns only the public IP from a STUN binding request. It is
// a fallback for when every HTTP identity service is unreachable.
type STUNSource struct {
	Servers []string
	Timeout time.Duration
}

func (s *STUNSource) Fetch(ctx context.Context) (types.IPInfo, error) {
	if len(s.Servers) == 0 {
		return types.IPInfo{}, errors.New("no STUN servers provided")
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	var lastErr error
	for _, server := range s.Servers {
		ip, err := stunMappedIP(ctx, server, timeout)
		if err == nil {
			return types.IPInfo{IP: ip}, nil
		}
		lastErr = err
	}
	return types.IPInfo{}, lastErr
}

func stunMappedIP(ctx context.Context, server string, timeout time.Duration) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", errors.New("empty STUN server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}

	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", err
	}
	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 1)

	go func() {
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				trySend(fail, res.Error)
				return
			}
			var addr stun.XORMappedAddress
			if err := addr.GetFrom(res.Message); err != nil {
				trySend(fail, err)
				return
			}
			trySend(result, addr)
		})
		if err != nil {
			trySend(fail, err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case addr := <-result:
		return addr.IP.String(), nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func trySend[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// Chain returns a source that tries each source in order.
func Chain(sources ...Source) Source {
	return SourceFunc(func(ctx context.Context) (types.IPInfo, error) {
		var errs []error
		for _, s := range sources {
			if s == nil {
				continue
			}
			info, err := s.Fetch(ctx)
			if err == nil {
				return info, nil
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return types.IPInfo{}, errors.New("no identity sources configured")
		}
		return types.IPInfo{}, multierr.Combine(errs...)
	})
}
