package geoip

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveLoopback(t *testing.T) {
	loc := Resolve("127.0.0.1")

	assert.Equal(t, Local, loc.Country)
	assert.Equal(t, Local, loc.City)
	assert.Equal(t, Local, loc.Continent)
}

func TestResolvePrivateRanges(t *testing.T) {
	for _, ip := range []string{"10.0.0.5", "192.168.1.20", "172.16.4.1", "::1"} {
		loc := Resolve(ip)
		assert.Equal(t, Local, loc.Country, "ip %s", ip)
	}
}

func TestResolveInvalidIP(t *testing.T) {
	loc := Resolve("not-an-ip")

	assert.Equal(t, Unknown, loc.Country)
	assert.Empty(t, loc.CountryCode)
}

func TestResolveWithoutDatabase(t *testing.T) {
	// No GeoDBPath configured in tests, so public IPs degrade to Unknown.
	loc := Resolve("8.8.8.8")

	assert.Equal(t, Unknown, loc.Country)
	assert.Equal(t, Unknown, loc.City)
}

func TestContinentForCountry(t *testing.T) {
	assert.Equal(t, "Europe", continentForCountry("DE"))
	assert.Equal(t, "North America", continentForCountry("US"))
	assert.Equal(t, Unknown, continentForCountry(""))
	assert.Equal(t, Unknown, continentForCountry("ZZ"))
}
