package ingest

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
	"github.com/viable-systems/control-plane/internal/platform/envutil"
	"github.com/viable-systems/control-plane/internal/platform/security"
)

func init() {
	security.AddSensitivePattern("URL Credentials",
		regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/\s@]+:[^/\s@]+@`),
		"$1[REDACTED]@")
}

const (
	connectTimeout = 5 * time.Second
	receiveTimeout = 30 * time.Second
	maxBodyBytes   = 50 * 1024 * 1024
)

var blockedHosts = map[string]bool{
	"localhost":        true,
	"127.0.0.1":        true,
	"0.0.0.0":          true,
	"::1":              true,
	"169.254.169.254": true,
}

var blockedHostSuffixes = []string{".local", ".internal", ".localhost"}

var fetchClient = &http.Client{
	Timeout: receiveTimeout,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	},
	Transport: &http.Transport{
		DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
	},
}

// Fetch populates RawContent/ContentType from Request.Content,
// Request.Path, or Request.URL.
func Fetch(sctx StageContext, s State) (State, *apierr.ServiceError) {
	switch s.Request.Source {
	case SourceContent:
		s.RawContent = s.Request.Content
		s.ContentType = s.Request.ContentType
		return s, nil
	case SourcePath:
		return fetchPath(s)
	case SourceURL:
		return fetchURL(sctx, s)
	default:
		return s, apierr.InvalidInput("source", "unknown ingest source")
	}
}

func fetchPath(s State) (State, *apierr.ServiceError) {
	info, err := os.Stat(s.Request.Path)
	if err != nil {
		return s, apierr.InvalidInput("path", "cannot stat file")
	}
	if info.Size() > maxBodyBytes {
		return s, apierr.ContentTooLarge(maxBodyBytes)
	}
	data, err := os.ReadFile(s.Request.Path)
	if err != nil {
		return s, apierr.Internal("read file", err)
	}
	s.RawContent = data
	s.ContentType = s.Request.ContentType
	s.SourceURL = ""
	return s, nil
}

func fetchURL(sctx StageContext, s State) (State, *apierr.ServiceError) {
	rawURL := s.Request.URL
	logEvent := sctx.AccessLog.Info().Str("url", security.SanitizeString(rawURL))

	if blockErr := validateFetchURL(rawURL); blockErr != nil {
		logEvent.Str("outcome", "blocked").Str("reason", blockErr.Message).Send()
		return s, blockErr
	}

	ctx, cancel := context.WithTimeout(sctx.Ctx, receiveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		logEvent.Str("outcome", "invalid_request").Send()
		return s, apierr.InvalidURL(rawURL)
	}

	resp, err := fetchClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			logEvent.Str("outcome", "timeout").Send()
			return s, apierr.Timeout("ingest_fetch")
		}
		logEvent.Str("outcome", "request_failed").Str("error", security.SanitizeString(err.Error())).Send()
		return s, apierr.RequestFailed(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		logEvent.Str("outcome", "redirect_rejected").Int("status", resp.StatusCode).Send()
		return s, apierr.RedirectBlocked(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		logEvent.Str("outcome", "read_failed").Send()
		return s, apierr.Internal("read response body", err)
	}
	if len(body) > maxBodyBytes {
		logEvent.Str("outcome", "too_large").Send()
		return s, apierr.ContentTooLarge(maxBodyBytes)
	}

	logEvent.Str("outcome", "ok").Int("status", resp.StatusCode).Send()

	s.RawContent = body
	s.ContentType = resp.Header.Get("Content-Type")
	s.SourceURL = rawURL
	return s, nil
}

// validateFetchURL checks scheme, host blocklist, and (in production)
// resolved-address private-range membership, before any request is made.
func validateFetchURL(rawURL string) *apierr.ServiceError {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return apierr.InvalidURL(rawURL)
	}

	host := strings.ToLower(u.Hostname())
	if blockedHosts[host] {
		return apierr.BlockedHost(host)
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return apierr.BlockedHost(host)
		}
	}

	if !envutil.IsProduction() {
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return apierr.BlockedHost(host)
	}
	for _, ip := range ips {
		if isPrivateOrReserved(ip) {
			return apierr.BlockedHost(host)
		}
	}
	return nil
}

func isPrivateOrReserved(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}
	if ip.To4() != nil {
		return false
	}
	// ULA fc00::/7 for IPv6.
	if len(ip) == net.IPv6len && ip[0]&0xfe == 0xfc {
		return true
	}
	return false
}
