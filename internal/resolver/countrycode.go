// Package resolver turns a coordinate into administrative regions and a
// postal code, consulting the enrichment caches before the boundary datasets.
package resolver

import (
	"fmt"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CountryCodeMap maps the boundary dataset's 3-letter country codes to the
// 2-letter codes written on enriched records.
type CountryCodeMap map[string]string

var defaultCountryCodes = CountryCodeMap{
	"USA": "US",
	"GBR": "GB",
	"DEU": "DE",
	"FRA": "FR",
	"ESP": "ES",
	"ITA": "IT",
	"NLD": "NL",
	"CHN": "CN",
	"JPN": "JP",
	"CAN": "CA",
	"AUS": "AU",
	"BRA": "BR",
	"IND": "IN",
	"RUS": "RU",
	"MEX": "MX",
	"ZAF": "ZA",
}

// DefaultCountryCodes returns a copy of the built-in table.
func DefaultCountryCodes() CountryCodeMap {
	return maps.Clone(defaultCountryCodes)
}

// LoadCountryCodeMap reads a YAML mapping of 3-letter to 2-letter codes.
// Entries in the file extend and override the built-in table.
func LoadCountryCodeMap(path string) (CountryCodeMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read country code map: %w", err)
	}

	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse country code map %s: %w", path, err)
	}

	codes := DefaultCountryCodes()
	for k, v := range raw {
		k, v = strings.ToUpper(strings.TrimSpace(k)), strings.ToUpper(strings.TrimSpace(v))
		if k == "" || v == "" {
			return nil, fmt.Errorf("country code map %s: empty code in entry %q: %q", path, k, v)
		}
		codes[k] = v
	}
	return codes, nil
}

// Map returns the 2-letter code for raw. Unmapped codes pass through unchanged.
func (m CountryCodeMap) Map(raw string) string {
	if code, ok := m[raw]; ok {
		return code
	}
	return raw
}
