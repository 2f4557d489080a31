package clientip

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolveWithHeaders(t *testing.T, headers map[string]string) string {
	t.Helper()

	app := fiber.New()
	app.Get("/probe", func(c *fiber.Ctx) error {
		return c.SendString(FromRequest(c))
	})

	req := httptest.NewRequest("GET", "/probe", nil)
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestFromRequestXForwardedFor(t *testing.T) {
	ip := resolveWithHeaders(t, map[string]string{
		"X-Forwarded-For": "203.0.113.5, 10.0.0.1",
	})
	assert.Equal(t, "203.0.113.5", ip)
}

func TestFromRequestSkipsPrivateHops(t *testing.T) {
	// Proxy chain where the private hop comes first
	ip := resolveWithHeaders(t, map[string]string{
		"X-Forwarded-For": "10.0.0.1, 192.168.1.4, 203.0.113.5",
	})
	assert.Equal(t, "203.0.113.5", ip)
}

func TestFromRequestCDNHeaders(t *testing.T) {
	assert.Equal(t, "198.51.100.20", resolveWithHeaders(t, map[string]string{
		"CF-Connecting-IP": "198.51.100.20",
	}))
	assert.Equal(t, "198.51.100.21", resolveWithHeaders(t, map[string]string{
		"X-Real-IP": "198.51.100.21",
	}))
}

func TestFromRequestForwardedHeader(t *testing.T) {
	ip := resolveWithHeaders(t, map[string]string{
		"Forwarded": `for=203.0.113.60;proto=https;by=203.0.113.43`,
	})
	assert.Equal(t, "203.0.113.60", ip)
}

func TestFromRequestStripsPort(t *testing.T) {
	ip := resolveWithHeaders(t, map[string]string{
		"X-Forwarded-For": "203.0.113.5:8443",
	})
	assert.Equal(t, "203.0.113.5", ip)
}

func TestFromRequestFallsBackToLoopback(t *testing.T) {
	// No forwarding headers and a private remote address
	assert.Equal(t, "127.0.0.1", resolveWithHeaders(t, nil))
}

func TestSelectPreferredIPPrefersIPv4(t *testing.T) {
	ip := selectPreferredIP([]string{"2001:db8::1", "203.0.113.5"})
	assert.Equal(t, "203.0.113.5", ip)

	// IPv6 is still better than nothing
	ip = selectPreferredIP([]string{"2001:db8::1", "10.0.0.1"})
	assert.Equal(t, "2001:db8::1", ip)
}

func TestNormalizeIPUnmapsIPv4InIPv6(t *testing.T) {
	normalized, parsed := normalizeIP("::ffff:203.0.113.9")
	assert.Equal(t, "203.0.113.9", normalized)
	require.NotNil(t, parsed)
	assert.NotNil(t, parsed.To4())
}
