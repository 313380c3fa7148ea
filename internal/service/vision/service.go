// Package vision is the image-generation collaborator: an ordered chain of
// HTTP image providers ending in a local placeholder that cannot fail.
package vision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/saikaki/backend/internal/config"
	"github.com/saikaki/backend/internal/service/fallback"
)

// maxImageBytes caps what we accept from an upstream image provider.
const maxImageBytes = 8 << 20

// Image is one generated image with its declared content type.
type Image struct {
	ContentType string
	Data        []byte
}

// Service generates images through an ordered provider chain.
type Service struct {
	endpoint string
	client   *http.Client
	remote   bool
}

// NewService builds the service. When the remote provider is disabled only
// the local placeholder remains.
func NewService(cfg config.VisionConfig) *Service {
	return &Service{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		remote:   cfg.Enabled && cfg.Endpoint != "",
	}
}

// Generate renders the prompt with the first provider that returns a real
// image. The placeholder tail guarantees a result, so the aggregate-failure
// branch is unreachable in practice but still propagated.
func (s *Service) Generate(ctx context.Context, prompt string) (Image, string, error) {
	var providers []fallback.Provider[Image]
	if s.remote {
		providers = append(providers, fallback.Provider[Image]{
			Name: "pollinations",
			Call: func(ctx context.Context) (Image, error) {
				return s.fetchImage(ctx, prompt)
			},
		})
	}
	providers = append(providers, fallback.Provider[Image]{
		Name: "placeholder",
		Call: func(context.Context) (Image, error) {
			return placeholderImage(prompt), nil
		},
	})

	result, err := fallback.TryInOrder(ctx, providers, func(img Image) bool {
		return strings.HasPrefix(img.ContentType, "image/") && len(img.Data) > 0
	})
	if err != nil {
		return Image{}, "", err
	}
	return result.Value, result.Provider, nil
}

func (s *Service) fetchImage(ctx context.Context, prompt string) (Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+url.PathEscape(prompt), nil)
	if err != nil {
		return Image{}, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Image{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Image{}, fmt.Errorf("unexpected image status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return Image{}, err
	}
	return Image{ContentType: resp.Header.Get("Content-Type"), Data: data}, nil
}

// placeholderImage synthesizes an SVG card carrying the prompt text.
func placeholderImage(prompt string) Image {
	if len(prompt) > 80 {
		prompt = prompt[:80]
	}
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="512" height="512">`+
		`<rect width="512" height="512" fill="#2b2d42"/>`+
		`<text x="50%%" y="50%%" fill="#edf2f4" font-family="sans-serif" font-size="20" text-anchor="middle">%s</text>`+
		`</svg>`, escapeXML(prompt))
	return Image{ContentType: "image/svg+xml", Data: []byte(svg)}
}

func escapeXML(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return replacer.Replace(s)
}
