package click

import (
	"net"
	"strings"
)

// heuristicResult is the cheap, provider-free fraud estimate computed from
// the request alone. The datacenter prefix hit raises the score but the
// is_datacenter boolean itself only ever comes from IP intelligence.
type heuristicResult struct {
	Score   int
	IsBot   bool
	Signals []string
}

var botSignatures = []string{
	"bot", "crawler", "spider", "scraper",
	"curl", "wget", "python-requests", "go-http-client",
	"headless", "phantomjs", "selenium", "puppeteer", "playwright",
	"httpclient", "okhttp", "java/",
}

// Well-known cloud and hosting ranges clicks rarely originate from.
var datacenterPrefixes = []string{
	"34.", "35.",   // google cloud
	"52.", "54.",   // aws
	"13.64.", "13.65.", "13.66.", "13.67.", // azure
	"104.131.", "104.236.", "159.89.", "167.99.", // digitalocean
	"5.9.", "88.198.", "136.243.", // hetzner
}

const minUserAgentLength = 20

// evaluateHeuristics scores the raw request signals without any network I/O.
func evaluateHeuristics(ip, userAgent string) heuristicResult {
	var result heuristicResult

	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		result.Score += 30
		result.IsBot = true
		result.Signals = append(result.Signals, "missing_user_agent")
	case len(ua) < minUserAgentLength:
		result.Score += 20
		result.Signals = append(result.Signals, "short_user_agent")
	}

	for _, sig := range botSignatures {
		if strings.Contains(ua, sig) {
			result.Score += 40
			result.IsBot = true
			result.Signals = append(result.Signals, "bot_user_agent")
			break
		}
	}

	for _, prefix := range datacenterPrefixes {
		if strings.HasPrefix(ip, prefix) {
			result.Score += 25
			result.Signals = append(result.Signals, "datacenter_ip_prefix")
			break
		}
	}

	return result
}

// Coarse static prefix table for the synchronous local GEO guess. The IP
// intelligence provider's country always wins when it answers in time, this
// only covers the fallback path.
var geoPrefixes = map[string]string{
	"3.":    "US",
	"8.8.":  "US",
	"24.":   "US",
	"64.":   "US",
	"98.":   "US",
	"2.":    "FR",
	"51.":   "GB",
	"62.":   "DE",
	"77.":   "RU",
	"85.":   "DE",
	"90.":   "FR",
	"101.":  "AU",
	"103.":  "IN",
	"111.":  "JP",
	"114.":  "CN",
	"177.":  "BR",
	"186.":  "AR",
	"196.":  "ZA",
	"200.":  "BR",
	"201.":  "MX",
	"203.":  "AU",
}

// localGeoGuess maps an IP to a country code without network I/O. Returns ""
// when the IP is private, malformed, or simply unknown to the table.
func localGeoGuess(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() {
		return ""
	}

	// Longest prefix wins so "8.8." beats a hypothetical "8.".
	best := ""
	country := ""
	for prefix, c := range geoPrefixes {
		if strings.HasPrefix(ip, prefix) && len(prefix) > len(best) {
			best = prefix
			country = c
		}
	}
	return country
}
