package sources

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind selects the submission endpoint for a piece of content.
type Kind string

const (
	KindWeb        Kind = "web"
	KindVideo      Kind = "video"
	KindSocialPost Kind = "social"
	KindText       Kind = "text"
)

func (k Kind) endpoint() string {
	switch k {
	case KindVideo:
		return "/sources/youtube"
	case KindSocialPost:
		return "/sources/tweet"
	case KindText:
		return "/sources/text"
	default:
		return "/sources/url"
	}
}

var (
	videoHosts  = []string{"youtube.com", "youtu.be"}
	socialHosts = []string{"twitter.com", "x.com"}
)

// ClassifyURL picks the submission kind for an http(s) URL by its host.
func ClassifyURL(raw string) (Kind, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid url %q: scheme must be http or https", raw)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("invalid url %q: missing host", raw)
	}
	switch {
	case hostMatches(host, videoHosts):
		return KindVideo, nil
	case hostMatches(host, socialHosts):
		return KindSocialPost, nil
	}
	return KindWeb, nil
}

func hostMatches(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
