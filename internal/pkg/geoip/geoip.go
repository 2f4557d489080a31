// Package geoip resolves visitor IP addresses to geographic facts using an
// optional MaxMind GeoLite2 City database. Without a database the package
// degrades to Unknown values instead of failing.
package geoip

import (
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pressbeat/internal/config"
)

const (
	Unknown = "Unknown"
	Local   = "Local"
)

// Location is the geographic snapshot stored on sessions and page views.
type Location struct {
	Country     string
	CountryCode string
	City        string
	Region      string
	Continent   string
}

var (
	geoDB  *geoip2.Reader
	once   sync.Once
	mu     sync.RWMutex
	logger *slog.Logger

	countryQuery = gountries.New()
	titleCaser   = cases.Title(language.English)
)

// InitLogger sets the logger for the geoip package.
func InitLogger(l *slog.Logger) {
	logger = l
}

// InitGeoDB opens the GeoLite2 database.
// Returns nil if the database is not configured or not found (GeoIP is optional).
func InitGeoDB() *geoip2.Reader {
	cfg := config.GetConfig()
	if cfg.GeoDBPath == "" {
		if logger != nil {
			logger.Debug("GeoIP database path not configured - geo lookups disabled")
		}
		return nil
	}

	if _, err := os.Stat(cfg.GeoDBPath); os.IsNotExist(err) {
		if logger != nil {
			logger.Info("GeoLite2 database not found - geo lookups disabled",
				slog.String("path", cfg.GeoDBPath),
				slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		}
		return nil
	} else if err != nil {
		if logger != nil {
			logger.Warn("Error checking GeoLite2 database file",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	db, err := geoip2.Open(cfg.GeoDBPath)
	if err != nil {
		if logger != nil {
			logger.Error("Failed to open GeoLite2 database",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	if logger != nil {
		logger.Info("GeoLite2 database initialized",
			slog.String("path", cfg.GeoDBPath))
	}
	return db
}

// GetGeoDB returns the GeoLite2 database reader, initializing it if necessary.
func GetGeoDB() *geoip2.Reader {
	once.Do(func() {
		mu.Lock()
		geoDB = InitGeoDB()
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return geoDB
}

// ReloadGeoDB reloads the GeoLite2 database from disk.
// Call this after downloading a new database file.
func ReloadGeoDB() {
	mu.Lock()
	defer mu.Unlock()

	if geoDB != nil {
		geoDB.Close()
	}
	geoDB = InitGeoDB()

	if geoDB != nil && logger != nil {
		logger.Info("GeoLite2 database reloaded")
	}
}

// Resolve maps an IP address to a Location. Loopback and private addresses
// resolve to Local so development traffic stays distinguishable from traffic
// the database simply cannot place.
func Resolve(ipAddress string) Location {
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return unknownLocation()
	}

	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
		return Location{
			Country:     Local,
			CountryCode: "",
			City:        Local,
			Region:      Local,
			Continent:   Local,
		}
	}

	db := GetGeoDB()
	if db == nil {
		return unknownLocation()
	}

	record, err := db.City(ip)
	if err != nil {
		if logger != nil {
			logger.Error("GeoIP lookup failed",
				slog.String("ip_address", ipAddress),
				slog.Any("error", err))
		}
		return unknownLocation()
	}

	loc := unknownLocation()
	if name := record.Country.Names["en"]; name != "" {
		loc.Country = name
	}
	loc.CountryCode = record.Country.IsoCode
	if name := record.City.Names["en"]; name != "" {
		loc.City = titleCaser.String(name)
	}
	if len(record.Subdivisions) > 0 {
		if name := record.Subdivisions[0].Names["en"]; name != "" {
			loc.Region = name
		}
	}
	loc.Continent = continentForCountry(record.Country.IsoCode)
	return loc
}

// continentForCountry derives the continent from an ISO 3166-1 alpha-2 code.
// The GeoLite2 continent field is skipped in favor of gountries so the
// mapping stays stable across database releases.
func continentForCountry(isoCode string) string {
	if isoCode == "" {
		return Unknown
	}
	country, err := countryQuery.FindCountryByAlpha(isoCode)
	if err != nil {
		return Unknown
	}
	if country.Continent == "" {
		return Unknown
	}
	return country.Continent
}

func unknownLocation() Location {
	return Location{
		Country:     Unknown,
		CountryCode: "",
		City:        Unknown,
		Region:      Unknown,
		Continent:   Unknown,
	}
}
